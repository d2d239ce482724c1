// Package cli implements the medimorph operational command line:
// database migrations and the reminder-feed tail used during incident
// debugging.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config *config.Config
	Logger logging.Logger
}

// NewRootCommand creates the root command with global flags and
// subcommands mounted.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cliCtx := &CLIContext{}

	cmd := &cobra.Command{
		Use:     "medimorph",
		Short:   "MediMorph operations CLI",
		Long:    "Operational tooling for the MediMorph prescription digitization\nand medication reminder service: schema migrations and reminder-feed\ninspection.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			logger, err := logging.NewLogger(logging.Config{
				Level:       cfg.Log.Level,
				Format:      cfg.Log.Format,
				OutputPaths: cfg.Log.OutputPaths,
			})
			if err != nil {
				return err
			}
			cliCtx.Config = cfg
			cliCtx.Logger = logger
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "path to configuration file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(newMigrateCommand(cliCtx))
	cmd.AddCommand(newFeedCommand(cliCtx))

	return cmd
}

// loadConfig reads the config file, falling back to environment variables
// when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
