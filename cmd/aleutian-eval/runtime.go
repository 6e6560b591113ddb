// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/AleutianEval/services/eval/config"
	"github.com/AleutianAI/AleutianEval/services/eval/executor"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
	"github.com/AleutianAI/AleutianEval/services/eval/storage"
	"github.com/AleutianAI/AleutianEval/services/eval/telemetry"
)

// runtime is the wired engine: run store, telemetry and OTel providers.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	store    *storage.RunStore
	sink     telemetry.Sink
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

// openRuntime wires the engine described by cfg.
//
// Description:
//
//	Installs the OTel providers, registers the Prometheus and OTel sinks
//	on a private registry and opens the Badger run store. Everything
//	opened so far is released if a later step fails.
func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	telCfg := cfg.Telemetry
	telCfg.Registerer = rt.registry
	if rt.shutdown, err = telemetry.Init(ctx, telCfg); err != nil {
		return nil, err
	}

	promCfg := telemetry.DefaultPrometheusConfig()
	promCfg.Registry = rt.registry
	promSink, err := telemetry.NewPrometheusSink(promCfg)
	if err != nil {
		return nil, err
	}
	otelCfg := telemetry.DefaultOTelConfig()
	otelCfg.ServiceName = telCfg.ServiceName
	otelCfg.ServiceVersion = telCfg.ServiceVersion
	otelSink, err := telemetry.NewOTelSink(otelCfg)
	if err != nil {
		_ = promSink.Close()
		return nil, err
	}
	if rt.sink, err = telemetry.NewCompositeSink(promSink, otelSink); err != nil {
		return nil, err
	}

	if rt.db, rt.store, err = openStore(cfg, logger); err != nil {
		return nil, err
	}
	return rt, nil
}

// openStore opens only the run store, for read-only commands.
func openStore(cfg config.Config, logger *slog.Logger) (*storage.DB, *storage.RunStore, error) {
	storeCfg := cfg.Storage
	storeCfg.Logger = logger
	db, err := storage.Open(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	return db, storage.NewRunStore(db), nil
}

// newRunner builds a runner that persists to the store and exports telemetry.
func (rt *runtime) newRunner() *runner.Runner {
	return runner.New(executor.NewDefaultDispatcher(),
		runner.WithStore(rt.store),
		runner.WithSink(rt.sink),
		runner.WithPacing(rt.cfg.Pacing.TasksPerMinute, rt.cfg.Pacing.Burst),
		runner.WithLogger(rt.logger),
	)
}

// Close flushes telemetry and closes the store.
func (rt *runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if rt.sink != nil {
		if err := rt.sink.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := rt.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.shutdown != nil {
		if err := rt.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
