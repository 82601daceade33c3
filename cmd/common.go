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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/valpere/mtserve/internal/config"
	"github.com/valpere/mtserve/internal/detector"
	"github.com/valpere/mtserve/internal/hub"
	"github.com/valpere/mtserve/internal/model"
	"github.com/valpere/mtserve/internal/orchestrator"
	"github.com/valpere/mtserve/internal/runtime"
	"github.com/valpere/mtserve/internal/store"
	"github.com/valpere/mtserve/internal/validator"
)

// newLogger builds the process logger from the log section of the config.
func newLogger(c config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// openStore opens the artifact manifest, creating its directory first.
func openStore(dbPath string) (*store.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// app holds everything a translation needs, built once per process.
type app struct {
	logger *zap.Logger
	db     *store.Store
	hub    *hub.Client
	cache  *model.Cache
	orch   *orchestrator.Orchestrator
}

// buildApp wires manifest, hub, runtime, model source, detector and
// registry into an orchestrator.
func buildApp(c *config.Config, logger *zap.Logger) (*app, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("invalid model registry: %w", err)
	}

	det, err := detector.NewWithOptions(c.Detector.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to build language detector: %w", err)
	}

	db, err := openStore(c.Database.Path)
	if err != nil {
		return nil, err
	}

	hubClient := hub.New(c.Hub, db, logger.Named("hub"))
	rt := runtime.New(c.Runtime, logger.Named("runtime"))
	loader := model.NewLoader(hubClient, rt, c.Runtime.Device, logger.Named("model"))

	a := &app{logger: logger, db: db, hub: hubClient}

	var source model.Source = loader
	if c.Models.Cache {
		a.cache = model.NewCache(loader)
		source = a.cache
	}

	var opts []orchestrator.Option
	if c.Detector.CheckOutput {
		opts = append(opts, orchestrator.WithOutputCheck(validator.New(det)))
	}

	a.orch = orchestrator.New(reg, det, source, logger.Named("orchestrator"), opts...)

	logger.Debug("Translation pipeline ready",
		zap.Int("pairs", reg.Len()),
		zap.Bool("model_cache", c.Models.Cache),
		zap.Bool("offline", c.Hub.Offline),
	)
	return a, nil
}

// Close unloads cached models and closes the manifest.
func (a *app) Close() {
	if a.cache != nil {
		a.logger.Debug("Unloading cached models", zap.Int("models", a.cache.Len()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.cache.Close(ctx); err != nil {
			a.logger.Warn("Failed to unload cached models", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
