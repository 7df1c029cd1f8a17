// Package app wires the pipeline's components together for one process:
// logger, resolved configuration, device inventory, workspace manager,
// solver adapters, and the orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/photopipe/internal/archive"
	"github.com/vk/photopipe/internal/config"
	"github.com/vk/photopipe/internal/ctxlog"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/ledger"
	"github.com/vk/photopipe/internal/pipeline"
	"github.com/vk/photopipe/internal/solver/kwave"
	"github.com/vk/photopipe/internal/solver/mcx"
	"github.com/vk/photopipe/internal/volume"
	"github.com/vk/photopipe/internal/workspace"
)

// Config holds everything an App instance needs to run.
type Config struct {
	ConfigPath string // pipeline HCL file
	VolumePath string // phantom HCL file

	LogFormat       string
	LogLevel        string
	RetainWorkspace bool // overrides the config file when set
}

// NewConfig validates the required fields.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.VolumePath == "" {
		return nil, errors.New("VolumePath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	runCfg *config.RunConfig
	ledger *ledger.Ledger
	prober device.Prober
}

// Option customizes an App before it resolves configuration.
type Option func(*App)

// WithProber overrides device discovery. Tests use a StaticProber.
func WithProber(p device.Prober) Option {
	return func(a *App) { a.prober = p }
}

// NewApp constructs a fully initialized App with its own isolated logger
// and a resolved, validated pipeline configuration.
func NewApp(ctx context.Context, outW io.Writer, appConfig *Config, opts ...Option) (*App, error) {
	a := &App{
		outW:   outW,
		logger: newLogger(appConfig.LogLevel, appConfig.LogFormat, outW),
		config: appConfig,
	}
	for _, opt := range opts {
		opt(a)
	}
	ctx = ctxlog.WithLogger(ctx, a.logger)

	runCfg, err := config.Resolve(ctx, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}
	if appConfig.RetainWorkspace {
		runCfg.RetainWorkspace = true
	}
	a.runCfg = runCfg

	if runCfg.Ledger != nil {
		l, err := ledger.Open(runCfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		a.ledger = l
	}

	a.logger.Debug("Application initialized.", "config", appConfig.ConfigPath)
	return a, nil
}

// Close releases resources held across runs.
func (a *App) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// RunConfig exposes the resolved configuration, primarily for testing.
func (a *App) RunConfig() *config.RunConfig {
	return a.runCfg
}

// Run executes one pipeline run for the configured volume.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	vol, err := volume.LoadSpec(a.config.VolumePath)
	if err != nil {
		return err
	}

	selector, err := a.buildSelector(ctx)
	if err != nil {
		return err
	}

	manager := workspace.NewManager(a.runCfg.OutputRoot)
	opts := []pipeline.Option{}
	if a.ledger != nil {
		opts = append(opts, pipeline.WithRecorder(a.ledger))
	}
	if a.runCfg.Archive != nil {
		uploader, err := archive.NewUploader(a.runCfg.Archive)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithArchiver(uploader))
	}

	orch := pipeline.New(a.runCfg, manager, selector, mcx.New(manager), kwave.New(manager), opts...)

	result, err := orch.Run(ctx, vol)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.outW, "run %s finished: %s\n", result.RunID, result.State)
	for rel, abs := range result.Artifacts {
		fmt.Fprintf(a.outW, "  %s -> %s\n", rel, abs)
	}
	return nil
}

// buildSelector probes the device inventory. When no prober was injected
// it tries nvidia-smi and falls back to a metadata-free inventory of the
// configured ids, so hosts without the management tool still run; the
// acoustic capability gate only applies when metadata is present.
func (a *App) buildSelector(ctx context.Context) (*device.Selector, error) {
	prober := a.prober
	if prober == nil {
		smi := &device.SMIProber{}
		if _, err := smi.Probe(ctx); err != nil {
			a.logger.Warn("nvidia-smi probe failed, assuming configured devices exist.", "error", err)
			devices := make([]device.Device, len(a.runCfg.DeviceIDs))
			for i, id := range a.runCfg.DeviceIDs {
				devices[i] = device.Device{ID: id}
			}
			prober = &device.StaticProber{Devices: devices}
		} else {
			prober = smi
		}
	}
	return device.NewSelector(ctx, prober)
}
