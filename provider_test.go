// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gridsim/pointbus"
	"github.com/gridsim/pointbus/internal/store"
)

type harness struct {
	tctx     *pointbus.Context
	provider *pointbus.Provider
	store    *store.Store
	client   *pointbus.Client
	reg      *prometheus.Registry

	acks []string
	errs []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require := require.New(t)

	h := &harness{tctx: pointbus.NewContext(), reg: prometheus.NewRegistry()}
	t.Cleanup(func() { h.tctx.Close() })

	m, err := pointbus.NewMetrics(h.reg)
	require.NoError(err)

	h.store = store.New([]pointbus.TagValue{
		{Tag: "bus-1.active", Value: "true"},
	}, time.Hour, nil)

	serverEP := pointbus.NewEndpoint("inproc://provider")
	h.provider, err = pointbus.NewProvider(h.tctx,
		serverEP,
		pointbus.NewEndpoint("inproc://points"),
		h.store,
		pointbus.WithMetrics(m))
	require.NoError(err)
	t.Cleanup(func() { h.provider.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.provider.Run(ctx)

	h.client, err = pointbus.NewClient(h.tctx, serverEP,
		pointbus.WithTimeout(5*time.Second),
		pointbus.WithPacing(0))
	require.NoError(err)
	t.Cleanup(func() { h.client.Close() })

	h.client.SetHandler(func(body string) { h.acks = append(h.acks, body) })
	h.client.SetErrorHandler(func(body string) { h.errs = append(h.errs, body) })
	return h
}

func (h *harness) send(t *testing.T, msg string) {
	t.Helper()
	h.acks, h.errs = nil, nil
	require.NoError(t, h.client.Send(context.Background(), msg))
}

func TestProviderCommands(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.send(t, "QUERY=")
	require.Equal([]string{"bus-1.active,"}, h.acks)

	h.send(t, "READ=bus-1.active")
	require.Equal([]string{"true"}, h.acks)

	h.send(t, "READ=nope")
	require.Equal([]string{pointbus.TagNotFound}, h.errs)

	h.send(t, "WRITE=bus-1.active:false,")
	require.Len(h.acks, 1)

	h.send(t, "read=bus-1.active")
	require.Equal([]string{"false"}, h.acks)

	h.send(t, "FOO=bar")
	require.Equal([]string{"Unknown command type 'FOO'"}, h.errs)

	h.send(t, "no separator")
	require.Equal([]string{"Malformed command"}, h.errs)

	// labels are ordered by name: op, status
	require.Equal(1.0, counterValue(t, h.reg, "pointbus_provider_requests_total", "READ", "ERR"))
	require.Equal(1.0, counterValue(t, h.reg, "pointbus_provider_requests_total", "UNKNOWN", "ERR"))
}

func TestProviderWriteSkipsMalformedPairs(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	h.send(t, "WRITE=bus-1.active:false,junk,")
	require.Len(h.acks, 1)

	h.send(t, "READ=bus-1.active")
	require.Equal([]string{"false"}, h.acks)
}

func TestProviderHandleMessage(t *testing.T) {
	h := newHarness(t)
	reply := h.provider.HandleMessage(context.Background(), []byte("FOO=bar\x00"))
	require.Equal(t, "ERR=Unknown command type 'FOO'", reply)
}

func TestProviderPublishesAfterWrite(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	sub, err := pointbus.NewSubscriber(h.tctx, pointbus.NewEndpoint("inproc://points"))
	require.NoError(err)
	defer sub.Close()
	require.Equal(h.provider.Group(), sub.Group())

	frames := make(chan string, 8)
	sub.SetHandler(func(data string) { frames <- data })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	h.send(t, "WRITE=bus-1.active:false,")

	select {
	case frame := <-frames:
		ps, err := pointbus.DecodeFrame(frame)
		require.NoError(err)
		v, ok := ps.Get("bus-1.active")
		require.True(ok)
		require.Equal("false", v)
	case <-time.After(5 * time.Second):
		require.FailNow("no frame published")
	}
}

func TestNewProviderRequiresBackend(t *testing.T) {
	tctx := pointbus.NewContext()
	defer tctx.Close()
	_, err := pointbus.NewProvider(tctx,
		pointbus.NewEndpoint("inproc://a"),
		pointbus.NewEndpoint("inproc://b"),
		nil)
	require.Error(t, err)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for i, l := range m.GetLabel() {
				if l.GetValue() != labels[i] {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	require.FailNow(t, "metric not found", name)
	return 0
}
