// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout           = errors.New("pointbus: receive timeout")
	ErrClosed            = errors.New("pointbus: socket closed")
	ErrUnsupportedScheme = errors.New("pointbus: unsupported scheme")
	ErrConnectRefused    = errors.New("pointbus: connection refused")
	ErrGroupTooLong      = errors.New("pointbus: group name too long")
	ErrNoPendingRequest  = errors.New("pointbus: no pending request")
)

// Transport schemes
const (
	SchemeInproc = "inproc" // in-process, all socket kinds
	SchemeTCP    = "tcp"    // framed request/reply
	SchemeGRPC   = "grpc"   // request/reply over gRPC
	SchemeUDP    = "udp"    // radio/dish multicast
)

// Requester is the client half of a request/reply pair. A Requester that
// timed out must be closed and replaced before the request is resent.
type Requester interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	// Poll waits up to timeout for the reply to the last Send. It returns
	// ErrTimeout when nothing arrives.
	Poll(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Replier is the server half of a request/reply pair. Each Recv must be
// answered by one Send.
type Replier interface {
	io.Closer
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Addr() string
}

// Radio sends group-tagged datagrams.
type Radio interface {
	io.Closer
	Send(ctx context.Context, group string, data []byte) error
}

// Datagram is one message received by a Dish.
type Datagram struct {
	Group string
	Data  []byte
}

// Dish receives datagrams for the groups it joined.
type Dish interface {
	io.Closer
	Join(group string) error
	Recv(ctx context.Context) (Datagram, error)
	Addr() string
}

// Scheme is a set of socket constructors for one address scheme. Nil
// constructors mean the scheme lacks that socket kind.
type Scheme struct {
	Requester func(c *Context, ep Endpoint) (Requester, error)
	Replier   func(c *Context, ep Endpoint) (Replier, error)
	Radio     func(c *Context, ep Endpoint) (Radio, error)
	Dish      func(c *Context, ep Endpoint) (Dish, error)
}

// Context owns the scheme registry and in-process state shared by the sockets
// of one process. Create one per process and pass it to every component.
type Context struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
	hub     *inprocHub
	logger  *zap.Logger
}

// NewContext returns a context with the built-in schemes registered.
func NewContext(opts ...Option) *Context {
	o := newOptions(opts)
	c := &Context{
		schemes: make(map[string]Scheme),
		hub:     newInprocHub(),
		logger:  o.logger.Named("transport"),
	}
	c.Register(SchemeInproc, Scheme{
		Requester: dialInproc,
		Replier:   bindInproc,
		Radio:     radioInproc,
		Dish:      dishInproc,
	})
	c.Register(SchemeTCP, Scheme{Requester: dialTCP, Replier: bindTCP})
	c.Register(SchemeGRPC, Scheme{Requester: dialGRPC, Replier: bindGRPC})
	c.Register(SchemeUDP, Scheme{Radio: radioUDP, Dish: dishUDP})
	return c
}

// Register adds or replaces a scheme.
func (c *Context) Register(name string, s Scheme) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemes[name] = s
}

// Schemes lists the registered scheme names.
func (c *Context) Schemes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.schemes))
	for name := range c.schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasScheme checks if a scheme is registered.
func (c *Context) HasScheme(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.schemes[name]
	return ok
}

func (c *Context) scheme(ep Endpoint) (Scheme, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemes[ep.Scheme()]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Address)
	}
	return s, nil
}

// Requester connects a request socket to ep.
func (c *Context) Requester(ep Endpoint) (Requester, error) {
	s, err := c.scheme(ep)
	if err != nil {
		return nil, err
	}
	if s.Requester == nil {
		return nil, fmt.Errorf("%w: %s has no requester", ErrUnsupportedScheme, ep.Scheme())
	}
	return s.Requester(c, ep)
}

// Replier binds a reply socket to ep.
func (c *Context) Replier(ep Endpoint) (Replier, error) {
	s, err := c.scheme(ep)
	if err != nil {
		return nil, err
	}
	if s.Replier == nil {
		return nil, fmt.Errorf("%w: %s has no replier", ErrUnsupportedScheme, ep.Scheme())
	}
	return s.Replier(c, ep)
}

// Radio connects a radio socket to ep.
func (c *Context) Radio(ep Endpoint) (Radio, error) {
	s, err := c.scheme(ep)
	if err != nil {
		return nil, err
	}
	if s.Radio == nil {
		return nil, fmt.Errorf("%w: %s has no radio", ErrUnsupportedScheme, ep.Scheme())
	}
	return s.Radio(c, ep)
}

// Dish binds a dish socket to ep. The caller joins groups.
func (c *Context) Dish(ep Endpoint) (Dish, error) {
	s, err := c.scheme(ep)
	if err != nil {
		return nil, err
	}
	if s.Dish == nil {
		return nil, fmt.Errorf("%w: %s has no dish", ErrUnsupportedScheme, ep.Scheme())
	}
	return s.Dish(c, ep)
}

// Close releases in-process sockets. Network sockets are owned and closed by
// the components that opened them.
func (c *Context) Close() error {
	c.hub.close()
	return nil
}
