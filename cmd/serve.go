/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valpere/mtserve/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the translation HTTP API",
	Long: `Start the HTTP API. It serves a single endpoint:

  POST /translate  {"text": "...", "target_lang": "fr"}  ->  {"translated_text": "..."}

The server shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		router := server.NewRouter(a.orch, cfg.Server, logger.Named("http"))
		srv := server.NewHTTPServer(router, cfg.Server)

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server",
				zap.String("addr", srv.Addr),
				zap.String("runtime", cfg.Runtime.URL),
				zap.String("device", cfg.Runtime.Device),
				zap.Bool("model_cache", cfg.Models.Cache),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case err, ok := <-errCh:
			if ok {
				logger.Error("HTTP server failed", zap.Error(err))
				return err
			}
			return nil
		case sig := <-quit:
			logger.Info("Shutting down server...", zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}

		logger.Info("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":5000", "Listen address")
	serveCmd.Flags().String("device", "auto", "Device preference: auto, cpu, cuda, mps")
	serveCmd.Flags().String("runtime", "http://localhost:8500", "Inference runtime URL")
	serveCmd.Flags().Bool("offline", false, "Only use model artifacts already in the local cache")
	serveCmd.Flags().Bool("cache", false, "Keep loaded models resident across requests")
}
