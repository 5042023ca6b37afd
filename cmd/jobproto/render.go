package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cgast/jobproto/internal/store"
	"github.com/cgast/jobproto/pkg/spec"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		params     []string
		deployment string
		output     string
		noHistory  bool
	)

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Compile a job protocol document into its final descriptor",
		Long: `Validates the document, substitutes parameter placeholders in every task
role command and merges the active deployment's pre and post commands into
each role's entrypoint. The resulting descriptor is written to stdout.

Example:
  jobproto render job.yaml --param epochs=20 --deployment prod -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = a.cfg.Render.Output
			}
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}
			tree, err := spec.LoadFile(args[0])
			if err != nil {
				return err
			}

			res, compileErr := a.compiler().CompileTree(tree, spec.Request{
				Parameters: overrides,
				Deployment: deployment,
			})

			if !noHistory {
				if err := a.recordRun(res, compileErr); err != nil {
					a.logger.Warn("history write failed", zap.Error(err))
				}
			}

			if compileErr != nil {
				if diags, ok := spec.IsValidationFailure(compileErr); ok {
					printDiagnostics(cmd.ErrOrStderr(), diags)
				}
				return compileErr
			}
			return writeDescriptor(cmd.OutOrStdout(), output, res.Descriptor)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "override a parameter (name=value, repeatable)")
	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment to merge (default: defaults.deployment)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: json or yaml (default from config)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this run in the history")
	return cmd
}

func (a *app) recordRun(res *spec.Result, compileErr error) error {
	hist, err := a.openHistory()
	if err != nil || hist == nil {
		return err
	}
	defer hist.Close()

	rec := store.NewRecord(res, compileErr)
	if err := hist.Put(rec); err != nil {
		return err
	}
	a.logger.Debug("recorded compile run", zap.String("id", rec.ID), zap.String("outcome", rec.Outcome))
	return nil
}

// parseParams turns name=value flags into overrides. Values are read as
// YAML scalars so numbers and booleans keep their type; anything else stays
// a string.
func parseParams(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want name=value", f)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		switch v.(type) {
		case string, int, float64, bool:
		default:
			v = raw
		}
		out[name] = v
	}
	return out, nil
}

func writeDescriptor(w io.Writer, format string, descriptor map[string]any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descriptor)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(descriptor); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
