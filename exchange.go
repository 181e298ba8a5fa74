// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"sync"
)

// queueDepth bounds requests waiting for a Replier.Recv.
const queueDepth = 64

// exchange is a request waiting for its reply.
type exchange struct {
	data  []byte
	reply func([]byte) error
}

// replyQueue serializes incoming requests for a Replier: Recv takes the next
// exchange, Send answers it. Receiving again without answering drops the
// previous request.
type replyQueue struct {
	in        chan *exchange
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	current *exchange
}

func newReplyQueue() *replyQueue {
	return &replyQueue{
		in:   make(chan *exchange, queueDepth),
		done: make(chan struct{}),
	}
}

func (q *replyQueue) push(ctx context.Context, ex *exchange) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.in <- ex:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *replyQueue) Recv(ctx context.Context) ([]byte, error) {
	select {
	case ex := <-q.in:
		q.mu.Lock()
		q.current = ex
		q.mu.Unlock()
		return ex.data, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *replyQueue) Send(_ context.Context, data []byte) error {
	q.mu.Lock()
	ex := q.current
	q.current = nil
	q.mu.Unlock()

	if ex == nil {
		return ErrNoPendingRequest
	}
	return ex.reply(data)
}

func (q *replyQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *replyQueue) closed() <-chan struct{} {
	return q.done
}
