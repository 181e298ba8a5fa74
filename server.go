// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RequestHandler turns one raw request into an "ACK=..." or "ERR=..." reply.
type RequestHandler func(ctx context.Context, request []byte) string

// Server answers requests one at a time on a single reply socket.
type Server struct {
	sock   Replier
	opts   *options
	logger *zap.Logger

	mu      sync.RWMutex
	handler RequestHandler
}

// NewServer binds a reply socket to ep.
func NewServer(tctx *Context, ep Endpoint, handler RequestHandler, opts ...Option) (*Server, error) {
	o := newOptions(opts)
	sock, err := tctx.Replier(ep)
	if err != nil {
		return nil, fmt.Errorf("server bind: %w", err)
	}
	return &Server{
		sock:    sock,
		opts:    o,
		logger:  o.logger.Named("server").With(zap.String("endpoint", sock.Addr())),
		handler: handler,
	}, nil
}

// SetHandler replaces the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Addr is the bound address, with any wildcard port resolved.
func (s *Server) Addr() string {
	return s.sock.Addr()
}

// Run receives, handles and replies until ctx is done or the socket fails.
// The socket is not reopened; a Server whose Run returned is finished.
func (s *Server) Run(ctx context.Context) error {
	for {
		req, err := s.sock.Recv(ctx)
		if err != nil {
			return s.exit(ctx, "receive", err)
		}

		s.mu.RLock()
		h := s.handler
		s.mu.RUnlock()

		var reply string
		if h == nil {
			reply = Errf("No handler")
		} else {
			reply = h(ctx, req)
		}
		s.logger.Debug("request handled",
			zap.ByteString("request", trimNULBytes(req)),
			zap.String("reply", reply))

		if err := s.sock.Send(ctx, terminate(reply)); err != nil {
			return s.exit(ctx, "send", err)
		}
	}
}

func (s *Server) exit(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrClosed) {
		s.logger.Info("server stopped")
		return err
	}
	s.logger.Error("server loop failed", zap.String("stage", stage), zap.Error(err))
	return fmt.Errorf("server %s: %w", stage, err)
}

// Close closes the socket, which also ends Run.
func (s *Server) Close() error {
	return s.sock.Close()
}

func trimNULBytes(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
