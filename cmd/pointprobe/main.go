// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command pointprobe sends one command to a provider and prints the reply.
//
//	pointprobe -endpoint tcp://10.0.0.5:5555 query
//	pointprobe -endpoint tcp://10.0.0.5:5555 read bus-1.active
//	pointprobe -gateway http://10.0.0.5:8080/rpc write bus-1.active=false load-1.kw=3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gridsim/pointbus"
	"github.com/gridsim/pointbus/internal/config"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "tcp://127.0.0.1:5555", "provider command endpoint")
		gateway  = flag.String("gateway", "", "JSON-RPC gateway URL; overrides -endpoint")
		timeout  = flag.Duration("timeout", pointbus.DefaultTimeout, "reply timeout per attempt")
		retries  = flag.Int("retries", pointbus.DefaultRetries, "attempts before giving up")
		level    = flag.String("log-level", "warn", "log level")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] query | read <tag> | write <tag>=<value>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := config.LogConfig{Level: *level, Development: true}.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pointprobe: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	op, payload, pairs, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "pointprobe: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *gateway != "" {
		err = viaGateway(ctx, *gateway, op, payload, pairs, logger)
	} else {
		err = viaClient(ctx, *endpoint, pointbus.Encode(op, payload), logger,
			pointbus.WithLogger(logger),
			pointbus.WithTimeout(*timeout),
			pointbus.WithRetries(*retries))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pointprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseCommand(args []string) (string, string, []pointbus.TagValue, error) {
	if len(args) == 0 {
		return "", "", nil, errors.New("missing command")
	}
	switch strings.ToLower(args[0]) {
	case "query":
		return pointbus.OpQuery, "", nil, nil
	case "read":
		if len(args) != 2 {
			return "", "", nil, errors.New("read takes one tag")
		}
		return pointbus.OpRead, args[1], nil, nil
	case "write":
		if len(args) < 2 {
			return "", "", nil, errors.New("write takes tag=value pairs")
		}
		pairs := make([]pointbus.TagValue, 0, len(args)-1)
		for _, a := range args[1:] {
			tag, value, ok := strings.Cut(a, "=")
			if !ok || tag == "" {
				return "", "", nil, fmt.Errorf("bad pair %q", a)
			}
			pairs = append(pairs, pointbus.TagValue{Tag: tag, Value: value})
		}
		return pointbus.OpWrite, pointbus.EncodePairs(pairs), pairs, nil
	default:
		return "", "", nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func viaClient(ctx context.Context, endpoint, message string, logger *zap.Logger, opts ...pointbus.Option) error {
	tctx := pointbus.NewContext(pointbus.WithLogger(logger))
	defer tctx.Close()

	c, err := pointbus.NewClient(tctx, pointbus.NewEndpoint(endpoint), opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	answered := false
	c.SetHandler(func(body string) {
		answered = true
		fmt.Println(body)
	})
	var failure error
	c.SetErrorHandler(func(body string) {
		answered = true
		failure = fmt.Errorf("provider error: %s", body)
	})

	if err := c.Send(ctx, message); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	if !answered {
		return errors.New("no reply")
	}
	return nil
}

func viaGateway(ctx context.Context, rawURL, op, payload string, pairs []pointbus.TagValue, logger *zap.Logger) error {
	uri, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("gateway url: %w", err)
	}

	var (
		method = pointbus.GatewayService + "."
		params any
	)
	switch op {
	case pointbus.OpQuery:
		method += "Query"
		params = &pointbus.QueryArgs{}
	case pointbus.OpRead:
		method += "Read"
		params = &pointbus.ReadArgs{Tag: payload}
	default:
		method += "Write"
		params = &pointbus.WriteArgs{Points: pairs}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var reply pointbus.GatewayReply
	if err := pointbus.SendJSONRequest(ctx, uri, method, params, &reply, logger); err != nil {
		return err
	}
	if reply.Status != pointbus.StatusACK {
		return fmt.Errorf("provider error: %s", reply.Body)
	}
	fmt.Println(reply.Body)
	return nil
}
