package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/schemacanvas/internal/cueimport"
	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/event"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		project string
		file    string
		format  string
		dryRun  bool
		demo    bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create models and fields from a CUE schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if demo && project == "" {
				project = demoProject
			}
			schema, err := cueimport.LoadFile(file)
			if err != nil {
				return err
			}

			fan := event.NewFanout()
			var (
				mu       sync.Mutex
				failures []error
			)
			fan.Attach(func(evt event.CanvasEvent) {
				if evt.EventType != event.SyncFailed {
					return
				}
				mu.Lock()
				failures = append(failures, errors.New(evt.Summary))
				mu.Unlock()
			})

			d, err := designer.New(designer.Options{
				ProjectID: project,
				Gateway:   opts.backend(demo),
				Recorder:  fan,
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

			if dryRun {
				return writeOutput(cmd.OutOrStdout(), format, cueimport.PlanFor(d.Models(), schema))
			}
			plan, err := cueimport.Apply(d, schema)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if len(failures) > 0 {
				return fmt.Errorf("import incomplete: %w", errors.Join(failures...))
			}
			return writeOutput(cmd.OutOrStdout(), format, plan)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&file, "file", "", "CUE file or package directory")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without creating anything")
	cmd.Flags().BoolVar(&demo, "demo", false, "import into the built-in demo project")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
