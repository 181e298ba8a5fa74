// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	maxFrameSize      = 64 * 1024 * 1024 // 64MB max
	tcpDialTimeout    = 5 * time.Second
	tcpReplyWriteWait = 30 * time.Second
)

// Frame: [4 len][payload], big-endian length.
func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("tcp: frame of %d bytes exceeds limit", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// tcpRequester is a framed TCP request socket. Replies are read by a
// background loop and handed to Poll.
type tcpRequester struct {
	conn     net.Conn
	writeMu  sync.Mutex
	replies  chan []byte
	closed   atomic.Bool
	readDone chan struct{}
}

func dialTCP(_ *Context, ep Endpoint) (Requester, error) {
	conn, err := net.DialTimeout("tcp", ep.Target(), tcpDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp dial %s: %v", ErrConnectRefused, ep.Target(), err)
	}
	r := &tcpRequester{
		conn:     conn,
		replies:  make(chan []byte, 1),
		readDone: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *tcpRequester) readLoop() {
	defer close(r.readDone)
	for {
		msg, err := readFrame(r.conn)
		if err != nil {
			return
		}
		select {
		case r.replies <- msg:
		default:
			// a reply nobody is waiting for
		}
	}
}

func (r *tcpRequester) Send(_ context.Context, data []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := writeFrame(r.conn, data); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (r *tcpRequester) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-r.replies:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.readDone:
		// peer went away; the caller sees it as a missing reply
		select {
		case msg := <-r.replies:
			return msg, nil
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *tcpRequester) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.conn.Close()
}

// tcpReplier accepts any number of requester connections and queues their
// requests for Recv.
type tcpReplier struct {
	listener net.Listener
	queue    *replyQueue
	conns    sync.Map
	closed   atomic.Bool
	logger   *zap.Logger
}

func bindTCP(c *Context, ep Endpoint) (Replier, error) {
	ln, err := net.Listen("tcp", ep.Target())
	if err != nil {
		return nil, fmt.Errorf("tcp bind %s: %w", ep.Target(), err)
	}
	r := &tcpReplier{
		listener: ln,
		queue:    newReplyQueue(),
		logger:   c.logger.With(zap.String("bind", ln.Addr().String())),
	}
	go r.acceptLoop()
	return r, nil
}

func (r *tcpReplier) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if r.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("tcp accept failed", zap.Error(err))
			continue
		}
		go r.handleConn(conn)
	}
}

func (r *tcpReplier) handleConn(conn net.Conn) {
	defer conn.Close()
	r.conns.Store(conn, struct{}{})
	defer r.conns.Delete(conn)

	var writeMu sync.Mutex
	for {
		msg, err := readFrame(conn)
		if err != nil {
			return
		}
		err = r.queue.push(context.Background(), &exchange{
			data: msg,
			reply: func(reply []byte) error {
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.SetWriteDeadline(time.Now().Add(tcpReplyWriteWait))
				return writeFrame(conn, reply)
			},
		})
		if err != nil {
			return
		}
	}
}

func (r *tcpReplier) Recv(ctx context.Context) ([]byte, error) {
	return r.queue.Recv(ctx)
}

// Send answers the last received request. A requester that hung up in the
// meantime is not an error for the replier.
func (r *tcpReplier) Send(ctx context.Context, data []byte) error {
	err := r.queue.Send(ctx, data)
	if err != nil && !errors.Is(err, ErrNoPendingRequest) {
		r.logger.Debug("reply dropped", zap.Error(err))
		return nil
	}
	return err
}

func (r *tcpReplier) Addr() string {
	return SchemeTCP + "://" + r.listener.Addr().String()
}

func (r *tcpReplier) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.queue.close()
	r.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	return r.listener.Close()
}
