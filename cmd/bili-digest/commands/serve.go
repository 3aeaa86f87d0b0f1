// Copyright 2025 the bili-digest authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/baize-lab/bili-digest/internal/api"
	"github.com/baize-lab/bili-digest/internal/telemetry"
)

// serveCmd runs the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the digest HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				slog.Error("telemetry shutdown failed", "error", err)
			}
		}()

		state, err := initState(ctx, cfg)
		if err != nil {
			return err
		}
		state.temps.Start()
		defer state.temps.Stop()

		r := gin.Default()
		r.Use(otelgin.Middleware(cfg.Application.Name))
		r.Use(cors.Default())
		r.GET("/healthz", api.Healthz)

		apiV1 := r.Group("/api/v1")
		api.NewHandler(state.digests).Register(apiV1)

		srv := &http.Server{
			Addr:    cfg.Application.ListenAddr,
			Handler: r,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server listen failed", "error", err)
			}
		}()
		slog.Info("server ready", "addr", cfg.Application.ListenAddr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-ctx.Done():
		}
		slog.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}
