package main

import (
	"github.com/spf13/cobra"

	"github.com/matthewbaird/schemacanvas/internal/designer"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var (
		project string
		format  string
		demo    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a project's reconciled graph and seeded layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if demo && project == "" {
				project = demoProject
			}
			d, err := designer.New(designer.Options{
				ProjectID: project,
				Gateway:   opts.backend(demo),
				Logger:    opts.logger,
				Runner:    designer.Inline,
			})
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Load(cmd.Context()); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, d.Snapshot())
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&demo, "demo", false, "inspect the built-in demo project")
	return cmd
}
