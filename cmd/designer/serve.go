package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/activity"
	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/eventbus"
	"github.com/matthewbaird/schemacanvas/internal/layoutstore"
	"github.com/matthewbaird/schemacanvas/internal/server"
	"github.com/matthewbaird/schemacanvas/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port int
		demo bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the designer HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger := opts.cfg, opts.logger
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			layouts, err := layoutstore.Open(ctx, cfg.Layout)
			if err != nil {
				return err
			}
			defer layouts.Close()
			logger.Info("layout store ready", zap.String("kind", cfg.Layout.Kind))

			history, err := activity.Open(ctx, cfg.Activity)
			if err != nil {
				return err
			}
			defer history.Close()

			bus := eventbus.New(1024, logger)
			bus.Subscribe("log", eventbus.NewLogConsumer(logger))
			bus.Subscribe("metrics", eventbus.NewMetricsConsumer())
			bus.Subscribe("layout", eventbus.NewLayoutConsumer(layouts))
			bus.Subscribe("activity", activity.NewIndexer(history))
			if len(cfg.Kafka.Brokers) > 0 {
				kc := eventbus.NewKafkaConsumer(cfg.Kafka)
				defer kc.Close()
				bus.Subscribe("kafka", kc)
				logger.Info("forwarding canvas events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
			}
			bus.Start(ctx)
			defer bus.Stop()

			gw := opts.backend(demo)
			open := func(projectID string, rec event.Recorder) (*designer.Designer, error) {
				return designer.New(designer.Options{
					ProjectID:      projectID,
					Gateway:        gw,
					Layouts:        layouts,
					Recorder:       rec,
					Logger:         logger,
					DebounceWindow: cfg.DebounceWindow,
				})
			}
			sessions := session.NewManager(open, cfg.SessionMaxAge, cfg.SessionIdleTimeout, logger,
				session.WithPublisher(bus))
			defer sessions.Close()
			if err := sessions.StartCleanup(cfg.SessionCleanupSchedule); err != nil {
				return err
			}

			return server.Run(ctx, server.Config{
				Port:         cfg.Port,
				Sessions:     sessions,
				Activity:     history,
				AllowOrigins: cfg.AllowOrigins,
				Logger:       logger,
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&demo, "demo", false, "serve the built-in demo project instead of the backend")
	return cmd
}
