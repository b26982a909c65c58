package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmimport/internal/admin"
)

func newAdminCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Seed reference data and manage imported records",
	}
	cmd.AddCommand(
		newAdminUserCmd(root),
		newAdminPipelineCmd(root),
		newAdminResetCmd(),
	)
	return cmd
}

func newAdminUserCmd(root *rootOptions) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create or reactivate a user that can own records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := admin.New(app.Pool).AddUser(cmd.Context(), email, name)
			if err != nil {
				return err
			}
			return root.writeJSON(map[string]any{"id": id, "email": email})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email (required)")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAdminPipelineCmd(root *rootOptions) *cobra.Command {
	var (
		name   string
		stages string
	)

	cmd := &cobra.Command{
		Use:   "add-pipeline",
		Short: "Create a deal pipeline with ordered stages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := admin.New(app.Pool).AddPipeline(cmd.Context(), name, strings.Split(stages, ","))
			if err != nil {
				return err
			}
			return root.writeJSON(map[string]any{"id": id, "name": name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "pipeline name (required)")
	cmd.Flags().StringVar(&stages, "stages", "", "comma-separated stage names, first is the default (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("stages")
	return cmd
}

func newAdminResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all contacts and deals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return admin.New(app.Pool).Reset(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
