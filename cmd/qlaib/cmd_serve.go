// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/services/engine/acquisition"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/calibrate"
	"github.com/qlaiblab/qlaib/services/engine/live"
	"github.com/qlaiblab/qlaib/services/engine/metrics"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
	"github.com/qlaiblab/qlaib/services/engine/server"
	"github.com/qlaiblab/qlaib/services/engine/telemetry"
)

// runServe wires the whole engine: telemetry, acquisition backend, the
// live controller, and both server surfaces, then runs until SIGINT or
// SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	logger := newLogger("qlaib")
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("Error initializing telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	tm, err := telemetry.NewMetrics(otel.Meter("qlaib"))
	if err != nil {
		log.Fatalf("Error registering instruments: %v", err)
	}

	backend, err := buildBackend()
	if err != nil {
		log.Fatalf("Error building backend: %v", err)
	}
	defer backend.Close()

	specs := pipeline.DefaultSpecs(cfg.WindowPs)
	if cfg.Calibrate {
		specs, err = calibratedSpecs(ctx, backend, cfg.ExposureSec, calibrate.Options{
			WindowPs:     cfg.WindowPs,
			DelayStartPs: cfg.Scan.StartPs,
			DelayEndPs:   cfg.Scan.EndPs,
			DelayStepPs:  cfg.Scan.StepPs,
		}, tm, logger)
		if err != nil {
			log.Fatalf("Error calibrating delays: %v", err)
		}
	}

	var opts []pipeline.Option
	if cfg.Accidentals {
		opts = append(opts, pipeline.WithAccidentals())
	}
	pipe, err := pipeline.New(specs, opts...)
	if err != nil {
		log.Fatalf("Error building pipeline: %v", err)
	}

	ctrl := live.NewController(backend, pipe, metrics.NewDefaultRegistry(), logger,
		live.WithInstruments(tm))
	if err := ctrl.SetExposure(cfg.ExposureSec); err != nil {
		log.Fatalf("Error setting exposure: %v", err)
	}

	handlers := server.NewHandlers(ctrl, tm, logger)
	router := server.NewRouter(handlers, telemetry.MetricsHandler())
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	tcpLn, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		log.Fatalf("Error listening on %s: %v", cfg.TCPAddr, err)
	}
	tcpSrv := server.NewTCPServer(ctrl, logger)

	logger.Info("engine starting",
		"http_addr", cfg.HTTPAddr,
		"tcp_addr", cfg.TCPAddr,
		"backend", cfg.Backend.Type,
		"window_ps", cfg.WindowPs,
		"exposure_sec", cfg.ExposureSec,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		err := tcpSrv.Serve(gctx, tcpLn)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctrl.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Engine exited with error: %v", err)
	}
	logger.Info("engine stopped")
}

// calibratedSpecs captures one chunk from the backend, scans the reference
// pairs for their relative delays, and derives the full spec table from the
// result, so the served pipeline starts from measured delays instead of
// zeros. Runs before any client is accepted.
func calibratedSpecs(ctx context.Context, backend acquisition.Backend, exposureSec float64, opts calibrate.Options, tm *telemetry.Metrics, logger *logging.Logger) ([]pipeline.Spec, error) {
	b, err := backend.Capture(ctx, exposureSec)
	if err != nil {
		return nil, fmt.Errorf("calibration capture: %w", err)
	}

	started := time.Now()
	delays, warnings, err := calibrate.Calibrate(ctx, b, calibrate.DefaultRefPairs, opts)
	if err != nil {
		return nil, fmt.Errorf("delay scan: %w", err)
	}
	if tm != nil {
		tm.CalibrationDuration.Record(ctx, time.Since(started).Seconds())
	}
	for _, w := range warnings {
		logger.Warn("startup calibration", "pair", w.Label, "reason", w.Reason)
	}
	logger.Info("startup calibration complete",
		"pairs", len(calibrate.DefaultRefPairs),
		"channels", len(delays),
		"elapsed", time.Since(started).String(),
	)

	specs := calibrate.SpecsFromDelays(opts.WindowPs,
		calibrate.DefaultRefPairs, calibrate.DefaultCrossPairs, delays)
	return append(specs, pipeline.GHZTripletSpecs()...), nil
}

// buildBackend constructs the timestamp source from the configuration,
// wrapping it in a recorder when capture recording is enabled.
func buildBackend() (acquisition.Backend, error) {
	var backend acquisition.Backend
	switch cfg.Backend.Type {
	case "replay":
		replay, err := acquisition.NewReplayDir(cfg.Backend.ReplayDir)
		if err != nil {
			return nil, err
		}
		backend = replay
	default:
		backend = acquisition.NewMock(acquisition.MockConfig{
			Seed: cfg.Backend.Seed,
			Pairs: []acquisition.CorrelatedPair{
				{Ref: 1, Target: 5, OffsetPs: 40, RateHz: 2000},
				{Ref: 2, Target: 6, OffsetPs: -60, RateHz: 2000},
				{Ref: 3, Target: 7, OffsetPs: 25, RateHz: 2000},
				{Ref: 4, Target: 8, OffsetPs: 0, RateHz: 2000},
			},
			BackgroundHz: map[batch.ChannelID]float64{
				1: 500, 2: 500, 3: 500, 4: 500,
				5: 500, 6: 500, 7: 500, 8: 500,
			},
			JitterPs: 20,
			Realtime: true,
		})
	}
	if cfg.Backend.RecordDir != "" {
		return acquisition.NewRecorder(backend, cfg.Backend.RecordDir)
	}
	return backend, nil
}
