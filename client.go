// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReplyHandler receives the body of a reply.
type ReplyHandler func(body string)

// Client is a Lazy Pirate request sender: it sends, polls for a reply with a
// timeout, and on timeout discards its socket, reconnects and resends, up to
// a fixed number of attempts. Send calls are serialized; the Client has one
// socket and one outstanding request.
type Client struct {
	tctx     *Context
	endpoint Endpoint
	opts     *options
	logger   *zap.Logger

	mu         sync.Mutex
	sock       Requester
	handler    ReplyHandler
	errHandler ReplyHandler
}

// NewClient connects to ep. A connect failure is returned and should be
// treated as fatal.
func NewClient(tctx *Context, ep Endpoint, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	c := &Client{
		tctx:     tctx,
		endpoint: ep,
		opts:     o,
		logger:   o.logger.Named("client").With(zap.String("endpoint", ep.Address)),
	}
	sock, err := tctx.Requester(ep)
	if err != nil {
		return nil, fmt.Errorf("client connect: %w", err)
	}
	c.sock = sock
	c.logger.Debug("connected")
	return c, nil
}

// SetHandler registers the handler for ACK reply bodies. Handlers run inside
// Send and must not call Send themselves.
func (c *Client) SetHandler(h ReplyHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SetErrorHandler registers a handler for ERR reply bodies. ERR replies are
// logged whether or not one is set.
func (c *Client) SetErrorHandler(h ReplyHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errHandler = h
}

// Send delivers message and dispatches its reply. A request that gets no
// reply within the retry budget is abandoned and only logged; Send then
// returns nil. Errors are returned for transport failures that a reconnect
// cannot fix and for ctx cancellation.
func (c *Client) Send(ctx context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock == nil {
		return ErrClosed
	}

	payload := terminate(message)
	if err := c.send(ctx, payload); err != nil {
		return err
	}

	for retriesLeft := c.opts.retries; retriesLeft > 0; {
		if err := sleepCtx(ctx, c.opts.pacing); err != nil {
			return err
		}

		reply, err := c.sock.Poll(ctx, c.opts.timeout)
		if err == nil {
			// Any reply ends the exchange, even a malformed one.
			c.dispatch(reply)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, ErrTimeout) {
			c.logger.Warn("poll failed", zap.Error(err))
		}
		c.opts.metrics.timeout()

		retriesLeft--
		if retriesLeft == 0 {
			c.logger.Error("server seems to be offline, abandoning request",
				zap.String("message", message),
				zap.Int("attempts", c.opts.retries))
			c.opts.metrics.abandoned()
			return c.reconnect()
		}

		c.logger.Warn("no response from server, retrying",
			zap.Int("retries_left", retriesLeft))
		if err := c.reconnect(); err != nil {
			return err
		}
		if err := c.send(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.opts.metrics.attempt()
	if err := c.sock.Send(ctx, payload); err != nil {
		return fmt.Errorf("client send: %w", err)
	}
	return nil
}

// reconnect replaces the socket; a request socket that timed out cannot be
// reused.
func (c *Client) reconnect() error {
	if err := c.sock.Close(); err != nil {
		c.logger.Debug("close stale socket", zap.Error(err))
	}
	sock, err := c.tctx.Requester(c.endpoint)
	if err != nil {
		c.sock = nil
		return fmt.Errorf("client reconnect: %w", err)
	}
	c.sock = sock
	return nil
}

func (c *Client) dispatch(raw []byte) {
	reply, err := DecodeReply(string(raw))
	if err != nil {
		c.logger.Warn("malformed reply", zap.Error(err))
		return
	}
	if !reply.OK() {
		c.logger.Warn("request failed", zap.String("reason", reply.Body))
		if c.errHandler != nil {
			c.errHandler(reply.Body)
		}
		return
	}
	if c.handler != nil {
		c.handler(reply.Body)
	}
}

// Close releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
