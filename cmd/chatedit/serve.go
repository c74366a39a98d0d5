package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"chatedit/server/internal/api"
)

const shutdownGrace = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(false)
			gin.SetMode(gin.ReleaseMode)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(sigCtx, cfg, logger)
			if err != nil {
				return err
			}
			if _, err := a.operator(sigCtx); err != nil {
				_ = a.Close(time.Second)
				return fmt.Errorf("seed demo user: %w", err)
			}

			srv := api.NewServer(a.auth, a.chat, a.hub, logger, api.Options{
				UploadDir: cfg.Storage.UploadDir,
				Degraded:  a.degraded,
			})
			srv.WithReadiness(a.store.Ping)
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server_start",
				"addr", cfg.Server.Addr,
				"store", cfg.Storage.Driver,
				"toolchain", cfg.Toolchain.Driver,
				"degraded", a.degraded,
				"demo_user", cfg.Server.DemoEmail,
				"max_concurrent_operations", cfg.Dispatch.MaxConcurrentOps,
				"max_user_operations", cfg.Dispatch.MaxUserOps,
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()

			var serveErr error
			select {
			case <-sigCtx.Done():
				logger.Info("server_stop", "reason", "signal")
			case serveErr = <-errCh:
				if errors.Is(serveErr, http.ErrServerClosed) {
					serveErr = nil
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
			if err := a.Close(shutdownGrace); err != nil {
				logger.Error("close", "error", err)
				if serveErr == nil {
					serveErr = err
				}
			}
			return serveErr
		},
	}
}
