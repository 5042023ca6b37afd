package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/jobproto/pkg/spec"
)

func newValidateCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a job protocol document against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := spec.LoadDocument(args[0])
			if err != nil {
				return err
			}

			result := a.compiler().Validate(doc)
			a.logger.Debug("validated",
				zap.String("file", args[0]),
				zap.Int("errors", len(result.Errors)))

			if err := printValidation(cmd.OutOrStdout(), output, result); err != nil {
				return err
			}
			if !result.Valid() {
				return &spec.ValidationFailure{Errors: result.Errors}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func printValidation(w io.Writer, format string, result spec.ValidationResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"valid":  result.Valid(),
			"errors": result.Errors,
		})
	case "text":
		if result.Valid() {
			fmt.Fprintln(w, "valid")
			return nil
		}
		printDiagnostics(w, result.Errors)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printDiagnostics(w io.Writer, errs []spec.ValidationError) {
	for _, e := range errs {
		if e.Field == "" {
			fmt.Fprintf(w, "  - %s\n", e.Message)
			continue
		}
		fmt.Fprintf(w, "  - %s: %s\n", e.Field, e.Message)
	}
}
