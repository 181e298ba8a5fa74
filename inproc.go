// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// inprocHub routes in-process sockets by name. It belongs to one Context.
type inprocHub struct {
	mu       sync.Mutex
	repliers map[string]*inprocReplier
	dishes   map[string]map[*inprocDish]struct{}
}

func newInprocHub() *inprocHub {
	return &inprocHub{
		repliers: make(map[string]*inprocReplier),
		dishes:   make(map[string]map[*inprocDish]struct{}),
	}
}

func (h *inprocHub) close() {
	h.mu.Lock()
	repliers := h.repliers
	dishes := h.dishes
	h.repliers = make(map[string]*inprocReplier)
	h.dishes = make(map[string]map[*inprocDish]struct{})
	h.mu.Unlock()

	for _, r := range repliers {
		r.queue.close()
	}
	for _, set := range dishes {
		for d := range set {
			d.closeOnce.Do(func() { close(d.done) })
		}
	}
}

// ---- request/reply ----

type inprocReplier struct {
	hub   *inprocHub
	name  string
	queue *replyQueue
}

func bindInproc(c *Context, ep Endpoint) (Replier, error) {
	name := ep.Target()
	h := c.hub

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.repliers[name]; exists {
		return nil, fmt.Errorf("inproc bind %s: address in use", ep.Address)
	}
	r := &inprocReplier{hub: h, name: name, queue: newReplyQueue()}
	h.repliers[name] = r
	return r, nil
}

func (r *inprocReplier) Recv(ctx context.Context) ([]byte, error) {
	return r.queue.Recv(ctx)
}

func (r *inprocReplier) Send(ctx context.Context, data []byte) error {
	return r.queue.Send(ctx, data)
}

func (r *inprocReplier) Addr() string {
	return SchemeInproc + "://" + r.name
}

func (r *inprocReplier) Close() error {
	r.hub.mu.Lock()
	if r.hub.repliers[r.name] == r {
		delete(r.hub.repliers, r.name)
	}
	r.hub.mu.Unlock()
	r.queue.close()
	return nil
}

type inprocRequester struct {
	peer *inprocReplier

	mu      sync.Mutex
	pending chan []byte
	closed  bool
}

func dialInproc(c *Context, ep Endpoint) (Requester, error) {
	h := c.hub
	h.mu.Lock()
	peer, ok := h.repliers[ep.Target()]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectRefused, ep.Address)
	}
	return &inprocRequester{peer: peer}, nil
}

func (r *inprocRequester) Send(ctx context.Context, data []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	ch := make(chan []byte, 1)
	r.pending = ch
	r.mu.Unlock()

	msg := make([]byte, len(data))
	copy(msg, data)
	return r.peer.queue.push(ctx, &exchange{
		data: msg,
		reply: func(reply []byte) error {
			out := make([]byte, len(reply))
			copy(out, reply)
			select {
			case ch <- out:
			default:
			}
			return nil
		},
	})
}

func (r *inprocRequester) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	ch := r.pending
	r.mu.Unlock()
	if ch == nil {
		return nil, ErrNoPendingRequest
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *inprocRequester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.pending = nil
	return nil
}

// ---- radio/dish ----

type inprocRadio struct {
	hub  *inprocHub
	name string
}

func radioInproc(c *Context, ep Endpoint) (Radio, error) {
	return &inprocRadio{hub: c.hub, name: ep.Target()}, nil
}

// Send delivers to every dish bound to the same name that joined group.
// Dishes whose buffer is full miss the datagram.
func (r *inprocRadio) Send(_ context.Context, group string, data []byte) error {
	if len(group) > MaxGroupLen {
		return fmt.Errorf("%w: %q", ErrGroupTooLong, group)
	}
	r.hub.mu.Lock()
	targets := make([]*inprocDish, 0, len(r.hub.dishes[r.name]))
	for d := range r.hub.dishes[r.name] {
		targets = append(targets, d)
	}
	r.hub.mu.Unlock()

	for _, d := range targets {
		if !d.joined(group) {
			continue
		}
		msg := make([]byte, len(data))
		copy(msg, data)
		select {
		case d.in <- Datagram{Group: group, Data: msg}:
		default:
		}
	}
	return nil
}

func (r *inprocRadio) Close() error { return nil }

type inprocDish struct {
	hub  *inprocHub
	name string
	in   chan Datagram

	mu     sync.RWMutex
	groups map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func dishInproc(c *Context, ep Endpoint) (Dish, error) {
	d := &inprocDish{
		hub:    c.hub,
		name:   ep.Target(),
		in:     make(chan Datagram, queueDepth),
		groups: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	c.hub.mu.Lock()
	set, ok := c.hub.dishes[d.name]
	if !ok {
		set = make(map[*inprocDish]struct{})
		c.hub.dishes[d.name] = set
	}
	set[d] = struct{}{}
	c.hub.mu.Unlock()
	return d, nil
}

func (d *inprocDish) Join(group string) error {
	if len(group) > MaxGroupLen {
		return fmt.Errorf("%w: %q", ErrGroupTooLong, group)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group] = struct{}{}
	return nil
}

func (d *inprocDish) joined(group string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.groups[group]
	return ok
}

func (d *inprocDish) Recv(ctx context.Context) (Datagram, error) {
	select {
	case dg := <-d.in:
		return dg, nil
	case <-d.done:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

func (d *inprocDish) Addr() string {
	return SchemeInproc + "://" + d.name
}

func (d *inprocDish) Close() error {
	d.hub.mu.Lock()
	if set, ok := d.hub.dishes[d.name]; ok {
		delete(set, d)
		if len(set) == 0 {
			delete(d.hub.dishes, d.name)
		}
	}
	d.hub.mu.Unlock()
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}
