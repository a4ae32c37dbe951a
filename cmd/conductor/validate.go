package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/conductor/internal/config"
)

type validateOptions struct {
	ConfigPath string
	Scripts    bool
}

var validateCmdRunner = runValidate

func newValidateCmd(root *rootFlags) *cobra.Command {
	opts := validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a room configuration without firing any events",
		Long: `Validate checks the configuration schema and, with --scripts, loads every
plugin script into a throwaway session to surface script errors, duplicate
plugin names and ordering cycles. Returns exit code 0 when everything is
valid, 2 for configuration errors and 3 for script or ordering errors.
Advisory findings, such as ordering constraints that reference no configured
label, are printed to stderr without affecting the exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = args[0]

			return validateCmdRunner(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Scripts, "scripts", false, "Also load plugin scripts and resolve execution orders")

	return cmd
}

func runValidate(cmd *cobra.Command, opts validateOptions) error {
	cfg, err := config.ParseConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	for _, warning := range config.OrderWarnings(cfg) {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	if opts.Scripts {
		log, err := newRoomLogger(config.Settings{LogLevel: "error"}, false, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
			os.Exit(3)
		}

		host, _, err := loadRoom(cfg, opts.ConfigPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Script error: %v\n", err)
			os.Exit(3)
		}
		defer host.Close()

		if _, err := host.Session().ExecutionOrders(); err != nil {
			fmt.Fprintf(os.Stderr, "Ordering error: %v\n", err)
			os.Exit(3)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: configuration valid (%d plugins)\n", cfg.Name, len(cfg.Plugins))
	return nil
}
