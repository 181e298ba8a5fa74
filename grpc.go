// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	grpcServiceName = "pointbus.Exchange"
	grpcMethod      = "/" + grpcServiceName + "/Request"
)

// rawFrame carries already-encoded bytes through gRPC.
type rawFrame []byte

// rawCodec passes frames through unchanged, so no generated protobuf types
// are needed.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case *rawFrame:
		return *f, nil
	case rawFrame:
		return f, nil
	case []byte:
		return f, nil
	default:
		return nil, fmt.Errorf("grpc raw codec: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("grpc raw codec: cannot unmarshal into %T", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "pointbus-raw" }

// grpcRequester issues each Send as a unary call; Poll waits for it.
type grpcRequester struct {
	conn   *grpc.ClientConn
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending chan grpcResult
}

type grpcResult struct {
	data []byte
	err  error
}

func dialGRPC(_ *Context, ep Endpoint) (Requester, error) {
	conn, err := grpc.NewClient(ep.Target(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: grpc dial %s: %v", ErrConnectRefused, ep.Target(), err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &grpcRequester{conn: conn, ctx: ctx, cancel: cancel}, nil
}

func (r *grpcRequester) Send(_ context.Context, data []byte) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	ch := make(chan grpcResult, 1)
	r.mu.Lock()
	r.pending = ch
	r.mu.Unlock()

	req := rawFrame(append([]byte(nil), data...))
	go func() {
		var resp rawFrame
		err := r.conn.Invoke(r.ctx, grpcMethod, &req, &resp)
		ch <- grpcResult{data: resp, err: err}
	}()
	return nil
}

// Poll reports a failed call as ErrTimeout once the timeout elapses, so an
// unreachable server looks the same as a silent one.
func (r *grpcRequester) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	ch := r.pending
	r.mu.Unlock()
	if ch == nil {
		return nil, ErrNoPendingRequest
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err == nil {
			return res.data, nil
		}
		select {
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *grpcRequester) Close() error {
	r.cancel()
	return r.conn.Close()
}

// grpcReplier exposes a replyQueue as a gRPC unary method.
type grpcReplier struct {
	listener net.Listener
	server   *grpc.Server
	queue    *replyQueue
}

// grpcExchange is the handler type registered with the gRPC server.
type grpcExchange interface {
	exchange(ctx context.Context, req []byte) ([]byte, error)
}

var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*grpcExchange)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Request",
			Handler:    grpcRequestHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func grpcRequestHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req rawFrame
	if err := dec(&req); err != nil {
		return nil, err
	}
	resp, err := srv.(grpcExchange).exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	out := rawFrame(resp)
	return &out, nil
}

func bindGRPC(_ *Context, ep Endpoint) (Replier, error) {
	ln, err := net.Listen("tcp", ep.Target())
	if err != nil {
		return nil, fmt.Errorf("grpc bind %s: %w", ep.Target(), err)
	}
	r := &grpcReplier{
		listener: ln,
		server:   grpc.NewServer(grpc.ForceServerCodec(rawCodec{})),
		queue:    newReplyQueue(),
	}
	r.server.RegisterService(&grpcServiceDesc, r)
	go func() {
		_ = r.server.Serve(ln)
	}()
	return r, nil
}

func (r *grpcReplier) exchange(ctx context.Context, req []byte) ([]byte, error) {
	replies := make(chan []byte, 1)
	err := r.queue.push(ctx, &exchange{
		data: req,
		reply: func(reply []byte) error {
			replies <- append([]byte(nil), reply...)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.queue.closed():
		return nil, errors.New("grpc replier closed")
	}
}

func (r *grpcReplier) Recv(ctx context.Context) ([]byte, error) {
	return r.queue.Recv(ctx)
}

func (r *grpcReplier) Send(ctx context.Context, data []byte) error {
	return r.queue.Send(ctx, data)
}

func (r *grpcReplier) Addr() string {
	return SchemeGRPC + "://" + r.listener.Addr().String()
}

func (r *grpcReplier) Close() error {
	r.queue.close()
	r.server.Stop()
	return nil
}
