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

// MessageHandler receives one published message or fragment.
type MessageHandler func(data string)

// Subscriber receives the messages published to its endpoint's group.
// Delivery is best effort; handlers see messages in transport order.
type Subscriber struct {
	sock   Dish
	group  string
	opts   *options
	logger *zap.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

// NewSubscriber binds a dish socket to ep and joins ep's group.
func NewSubscriber(tctx *Context, ep Endpoint, opts ...Option) (*Subscriber, error) {
	o := newOptions(opts)
	sock, err := tctx.Dish(ep)
	if err != nil {
		return nil, fmt.Errorf("subscriber bind: %w", err)
	}
	group := ep.Group()
	if err := sock.Join(group); err != nil {
		sock.Close()
		return nil, fmt.Errorf("subscriber join: %w", err)
	}
	return &Subscriber{
		sock:  sock,
		group: group,
		opts:  o,
		logger: o.logger.Named("subscriber").With(
			zap.String("endpoint", ep.Address),
			zap.String("group", group)),
	}, nil
}

// SetHandler registers the message handler.
func (s *Subscriber) SetHandler(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Group is the joined group.
func (s *Subscriber) Group() string {
	return s.group
}

// Run delivers messages to the handler until ctx is done or the socket
// fails. The socket is not reopened.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		dg, err := s.sock.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				s.logger.Info("subscriber stopped")
				return err
			}
			s.logger.Error("subscriber loop failed", zap.Error(err))
			return fmt.Errorf("subscriber receive: %w", err)
		}

		s.mu.RLock()
		h := s.handler
		s.mu.RUnlock()

		s.opts.metrics.delivered()
		if h != nil {
			h(trimNUL(string(dg.Data)))
		}
	}
}

// Close closes the socket, which also ends Run.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
