// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command pointd runs a point provider: it answers QUERY/READ/WRITE
// requests, publishes point snapshots, and optionally serves a JSON-RPC
// gateway and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridsim/pointbus"
	"github.com/gridsim/pointbus/internal/config"
	"github.com/gridsim/pointbus/internal/modbusdev"
	"github.com/gridsim/pointbus/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "pointd.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pointd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("provider", cfg.Provider.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := pointbus.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	opts := []pointbus.Option{pointbus.WithLogger(logger), pointbus.WithMetrics(metrics)}

	backend, closeBackend, err := buildBackend(cfg.Provider, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	tctx := pointbus.NewContext(opts...)
	defer tctx.Close()

	provider, err := pointbus.NewProvider(tctx,
		pointbus.NewEndpoint(cfg.Provider.Server),
		pointbus.NewEndpoint(cfg.Provider.Publish),
		backend,
		opts...)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	defer provider.Close()

	var srv *http.Server
	if cfg.HTTP.Listen != "" {
		gateway, err := pointbus.NewGateway(provider, opts...)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/rpc", gateway)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return provider.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info("http listening", zap.String("addr", cfg.HTTP.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("pointd started",
		zap.String("server", provider.Addr()),
		zap.String("group", provider.Group()))
	err = g.Wait()
	logger.Info("pointd stopped", zap.Error(err))
	return err
}

func buildBackend(p config.ProviderConfig, logger *zap.Logger) (pointbus.Backend, func(), error) {
	switch p.Backend {
	case config.BackendModbus:
		dev, closeDev, err := modbusdev.Dial(modbusdev.Config{
			Endpoint: p.Modbus.Endpoint,
			UnitID:   p.Modbus.UnitID,
			Timeout:  p.Modbus.Timeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		points := make([]modbusdev.Point, 0, len(p.Modbus.Points))
		for _, pt := range p.Modbus.Points {
			points = append(points, modbusdev.Point{Tag: pt.Tag, Kind: pt.Kind, Address: pt.Address})
		}
		closeFn := func() {
			if err := closeDev(); err != nil {
				logger.Warn("modbus close", zap.Error(err))
			}
		}
		return modbusdev.New(dev, points, p.PublishInterval(), logger), closeFn, nil
	default:
		return store.New(p.Seed(), p.PublishInterval(), logger), func() {}, nil
	}
}
