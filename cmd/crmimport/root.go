package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmimport/internal/application"
	"github.com/JonMunkholm/crmimport/internal/config"
	"github.com/JonMunkholm/crmimport/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	out       io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "crmimport",
		Short:         "Bulk import contacts and deals from CSV or XLSX files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			logging.SetupWriter(os.Stderr, opts.logLevel, opts.logFormat)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newImportCmd(opts),
		newSuggestCmd(opts),
		newMigrateCmd(),
		newAdminCmd(opts),
	)
	return cmd
}

// openApp loads configuration from the environment and connects.
func openApp(ctx context.Context) (*application.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return application.New(ctx, cfg)
}

func (o *rootOptions) writeJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
