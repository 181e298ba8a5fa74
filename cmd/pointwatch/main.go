// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command pointwatch subscribes to a provider's publish endpoint and prints
// every point it receives, one "tag=value" per line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gridsim/pointbus"
	"github.com/gridsim/pointbus/internal/config"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "udp://239.0.0.1:40000", "publish endpoint, optionally with ;iface")
		raw      = flag.Bool("raw", false, "print frames as received")
		level    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := config.LogConfig{Level: *level, Development: true}.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pointwatch: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, pointbus.NewEndpoint(*endpoint), *raw, os.Stdout, logger); err != nil {
		logger.Fatal("pointwatch failed", zap.Error(err))
	}
}

func watch(ctx context.Context, ep pointbus.Endpoint, raw bool, out io.Writer, logger *zap.Logger) error {
	tctx := pointbus.NewContext(pointbus.WithLogger(logger))
	defer tctx.Close()

	sub, err := pointbus.NewSubscriber(tctx, ep, pointbus.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sub.Close()

	sub.SetHandler(func(frame string) {
		printFrame(out, frame, raw, logger)
	})

	logger.Info("watching", zap.String("endpoint", ep.Address), zap.String("group", sub.Group()))
	err = sub.Run(ctx)
	if ctx.Err() != nil || errors.Is(err, pointbus.ErrClosed) {
		return nil
	}
	return err
}

func printFrame(out io.Writer, frame string, raw bool, logger *zap.Logger) {
	if raw {
		fmt.Fprintln(out, frame)
		return
	}
	ps, err := pointbus.DecodeFrame(frame)
	if err != nil {
		logger.Warn("malformed fields in frame", zap.Error(err))
	}
	stamp := time.Now().Format(time.RFC3339Nano)
	for _, p := range ps.Pairs() {
		fmt.Fprintf(out, "%s %s=%s\n", stamp, p.Tag, p.Value)
	}
}
