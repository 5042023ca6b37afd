package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/jobproto/internal/config"
	"github.com/cgast/jobproto/internal/logging"
	"github.com/cgast/jobproto/internal/store"
	"github.com/cgast/jobproto/pkg/spec"
)

// app holds the state shared by all subcommands once the root command has
// loaded the configuration.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "jobproto",
		Short: "Validate and compile job protocol documents",
		Long: `jobproto checks YAML or JSON job protocol documents against the protocol
schema, expands <% $parameters.name %> placeholders and merges the selected
deployment into a canonical job descriptor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newValidateCmd(a),
		newRenderCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newSchemaCmd(),
	)
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// compiler builds a Compiler from the loaded configuration.
func (a *app) compiler(opts ...spec.Option) *spec.Compiler {
	base := []spec.Option{
		spec.WithLogger(a.logger),
		spec.WithParameterRefCheck(a.cfg.Validate.CheckParameterRefs),
		spec.WithFallbackDeployment(a.cfg.Render.DefaultDeployment),
	}
	return spec.NewCompiler(append(base, opts...)...)
}

// openHistory opens the configured compile history. It returns nil when the
// store is disabled.
func (a *app) openHistory() (*store.BoltStore, error) {
	if !a.cfg.Store.Enabled {
		return nil, nil
	}
	hist, err := store.Open(a.cfg.Store.Path, a.cfg.Store.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return hist, nil
}
