// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PublishFunc pushes one frame through the provider's publisher.
type PublishFunc func(ctx context.Context, frame string) error

// Backend is the point store behind a Provider. Implementations guard their
// own state: Query, Read and Write run on the request loop while
// PeriodicPublish runs concurrently on its own goroutine.
type Backend interface {
	// Query returns a complete reply, typically Ack("tag1,tag2,").
	Query(ctx context.Context) string
	// Read returns Ack(value) or an ERR reply such as Errf(TagNotFound).
	Read(ctx context.Context, tag string) string
	// Write applies points and returns an ACK or ERR reply.
	Write(ctx context.Context, points *PointSet) string
	// PeriodicPublish publishes frames at the backend's own cadence until
	// ctx is done.
	PeriodicPublish(ctx context.Context, publish PublishFunc) error
}

// Provider serves a Backend over request/reply and publishes its points.
type Provider struct {
	backend   Backend
	server    *Server
	publisher *Publisher
	opts      *options
	logger    *zap.Logger
}

// NewProvider binds the command server to serverEP and the publisher to
// publishEP.
func NewProvider(tctx *Context, serverEP, publishEP Endpoint, backend Backend, opts ...Option) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("provider: backend required")
	}
	o := newOptions(opts)
	p := &Provider{
		backend: backend,
		opts:    o,
		logger:  o.logger.Named("provider"),
	}

	server, err := NewServer(tctx, serverEP, p.HandleMessage, opts...)
	if err != nil {
		return nil, err
	}
	publisher, err := NewPublisher(tctx, publishEP, opts...)
	if err != nil {
		server.Close()
		return nil, err
	}
	p.server = server
	p.publisher = publisher

	p.logger.Info("provider bound",
		zap.String("server", server.Addr()),
		zap.String("publish", publishEP.Address),
		zap.String("group", publisher.Group()))
	return p, nil
}

// Addr is the bound command address.
func (p *Provider) Addr() string {
	return p.server.Addr()
}

// Group is the publish group.
func (p *Provider) Group() string {
	return p.publisher.Group()
}

// HandleMessage decodes one request and dispatches it to the backend.
func (p *Provider) HandleMessage(ctx context.Context, request []byte) string {
	cmd, err := DecodeCommand(string(request))
	if err != nil {
		p.logger.Warn("malformed command", zap.Error(err))
		return Errf("Malformed command")
	}

	reply := p.dispatch(ctx, cmd)
	p.opts.metrics.request(cmd.Op, reply)
	return reply
}

func (p *Provider) dispatch(ctx context.Context, cmd Command) string {
	switch {
	case cmd.Is(OpQuery):
		return p.backend.Query(ctx)
	case cmd.Is(OpRead):
		return p.backend.Read(ctx, cmd.Payload)
	case cmd.Is(OpWrite):
		pairs, err := DecodePairs(cmd.Payload)
		if err != nil {
			p.logger.Warn("skipping malformed pairs", zap.Error(err))
		}
		return p.backend.Write(ctx, NewPointSet(pairs...))
	default:
		return Errf("Unknown command type '%s'", cmd.Op)
	}
}

// Publish sends a frame to subscribers.
func (p *Provider) Publish(ctx context.Context, frame string) error {
	return p.publisher.Publish(ctx, frame)
}

// Run serves requests and runs the backend's periodic publish until ctx is
// done or either loop fails.
func (p *Provider) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.server.Run(gctx)
	})
	g.Go(func() error {
		if err := p.backend.PeriodicPublish(gctx, p.Publish); err != nil && gctx.Err() == nil {
			return fmt.Errorf("periodic publish: %w", err)
		}
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close closes both sockets.
func (p *Provider) Close() error {
	return errors.Join(p.server.Close(), p.publisher.Close())
}
