// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testTimeout = 50 * time.Millisecond

// flakyReplier answers request n (1-based) with reply(n), or not at all when
// reply returns "".
type flakyReplier struct {
	sock     Replier
	requests atomic.Int32

	mu   sync.Mutex
	seen []string
}

func startFlakyReplier(t *testing.T, tctx *Context, ep Endpoint, reply func(n int) string) *flakyReplier {
	t.Helper()
	sock, err := tctx.Replier(ep)
	require.NoError(t, err)

	f := &flakyReplier{sock: sock}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sock.Close()
	})
	go func() {
		for {
			req, err := sock.Recv(ctx)
			if err != nil {
				return
			}
			n := int(f.requests.Add(1))
			f.mu.Lock()
			f.seen = append(f.seen, trimNUL(string(req)))
			f.mu.Unlock()
			if r := reply(n); r != "" {
				_ = sock.Send(ctx, terminate(r))
			}
		}
	}()
	return f
}

func (f *flakyReplier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func newTestClient(t *testing.T, tctx *Context, ep Endpoint, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTimeout(testTimeout), WithPacing(0)}, opts...)
	c, err := NewClient(tctx, ep, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientSucceedsAfterRetries(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://flaky")

	srv := startFlakyReplier(t, tctx, ep, func(n int) string {
		if n <= 2 {
			return ""
		}
		return "ACK=ok"
	})

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(err)

	c := newTestClient(t, tctx, ep, WithMetrics(m))
	var bodies []string
	c.SetHandler(func(body string) { bodies = append(bodies, body) })

	require.NoError(c.Send(context.Background(), "READ=x"))
	require.Equal([]string{"ok"}, bodies)
	require.Equal(int32(3), srv.requests.Load())
	require.Equal([]string{"READ=x", "READ=x", "READ=x"}, srv.messages())

	require.Equal(3.0, gatherCounter(t, reg, "pointbus_client_attempts_total"))
	require.Equal(2.0, gatherCounter(t, reg, "pointbus_client_timeouts_total"))
	require.Equal(0.0, gatherCounter(t, reg, "pointbus_client_abandoned_total"))
}

func TestClientAbandonsAfterRetries(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://silent")

	srv := startFlakyReplier(t, tctx, ep, func(int) string { return "" })

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(err)

	c := newTestClient(t, tctx, ep, WithMetrics(m))
	called := false
	c.SetHandler(func(string) { called = true })

	require.NoError(c.Send(context.Background(), "QUERY="))
	require.False(called)
	require.Eventually(func() bool {
		return srv.requests.Load() == 3
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(1.0, gatherCounter(t, reg, "pointbus_client_abandoned_total"))

	// the client reconnected and can be used again
	require.NoError(c.Send(context.Background(), "QUERY="))
	require.Eventually(func() bool {
		return srv.requests.Load() == 6
	}, 5*time.Second, 5*time.Millisecond)
}

func TestClientRetriesOption(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://silent")

	srv := startFlakyReplier(t, tctx, ep, func(int) string { return "" })
	c := newTestClient(t, tctx, ep, WithRetries(1))

	require.NoError(t, c.Send(context.Background(), "QUERY="))
	require.Eventually(t, func() bool {
		return srv.requests.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(2 * testTimeout)
	require.Equal(t, int32(1), srv.requests.Load())
}

func TestClientMalformedReplyIsNotRetried(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://garbage")

	srv := startFlakyReplier(t, tctx, ep, func(int) string { return "garbage" })
	c := newTestClient(t, tctx, ep)
	called := false
	c.SetHandler(func(string) { called = true })
	c.SetErrorHandler(func(string) { called = true })

	require.NoError(c.Send(context.Background(), "READ=x"))
	require.False(called)
	require.Equal(int32(1), srv.requests.Load())
}

func TestClientErrorReply(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://err")

	startFlakyReplier(t, tctx, ep, func(int) string { return Errf(TagNotFound) })
	c := newTestClient(t, tctx, ep)

	var ok, failed []string
	c.SetHandler(func(body string) { ok = append(ok, body) })
	c.SetErrorHandler(func(body string) { failed = append(failed, body) })

	require.NoError(c.Send(context.Background(), "READ=nope"))
	require.Empty(ok)
	require.Equal([]string{TagNotFound}, failed)
}

func TestClientConnectRefused(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()

	_, err := NewClient(tctx, NewEndpoint("inproc://nobody"))
	require.ErrorIs(t, err, ErrConnectRefused)
}

func TestClientSendAfterClose(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://closed")
	startFlakyReplier(t, tctx, ep, func(int) string { return "ACK=" })

	c := newTestClient(t, tctx, ep)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(context.Background(), "QUERY="), ErrClosed)
}

func TestClientSendCanceled(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()
	ep := NewEndpoint("inproc://slow")
	startFlakyReplier(t, tctx, ep, func(int) string { return "" })

	c, err := NewClient(tctx, ep, WithTimeout(time.Minute), WithPacing(0))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Send(ctx, "QUERY="), context.DeadlineExceeded)
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.FailNow(t, "metric not found", name)
	return 0
}
