package main

import (
	"fmt"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"cellflow/internal/daemon"
	"cellflow/internal/logging"
	"cellflow/internal/services"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pools in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			sessionID := uuid.NewString()
			logger = logger.With(logging.String(logging.FieldCorrelationID, sessionID))

			runCtx, cancel := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer cancel()
			runCtx = services.WithRequestID(runCtx, sessionID)

			svc, err := daemon.Open(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			d, err := daemon.New(svc, logger)
			if err != nil {
				_ = svc.Close()
				return err
			}
			defer d.Close()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			if ctx.configPath != "" {
				logger.Info("configuration loaded", logging.String("path", ctx.configPath))
			}

			<-runCtx.Done()
			logger.Info("cellflow shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
			d.Stop()
			return nil
		},
	}
}
