// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContextSchemes(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()

	require.Equal(t, []string{SchemeGRPC, SchemeInproc, SchemeTCP, SchemeUDP}, tctx.Schemes())
	require.True(t, tctx.HasScheme(SchemeTCP))
	require.False(t, tctx.HasScheme("ipc"))
}

func TestContextUnsupportedScheme(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()

	_, err := tctx.Requester(NewEndpoint("ipc:///tmp/sock"))
	require.ErrorIs(err, ErrUnsupportedScheme)

	_, err = NewClient(tctx, NewEndpoint("no-scheme"))
	require.ErrorIs(err, ErrUnsupportedScheme)

	// udp carries no request/reply and tcp no multicast
	_, err = tctx.Replier(NewEndpoint("udp://127.0.0.1:0"))
	require.ErrorIs(err, ErrUnsupportedScheme)
	_, err = tctx.Radio(NewEndpoint("tcp://127.0.0.1:1"))
	require.ErrorIs(err, ErrUnsupportedScheme)
	_, err = tctx.Dish(NewEndpoint("grpc://127.0.0.1:1"))
	require.ErrorIs(err, ErrUnsupportedScheme)
}

func TestContextRegister(t *testing.T) {
	require := require.New(t)
	tctx := NewContext()
	defer tctx.Close()

	// alias "mem" onto the in-process transport
	tctx.Register("mem", Scheme{Requester: dialInproc, Replier: bindInproc})
	require.True(tctx.HasScheme("mem"))

	rep, err := tctx.Replier(NewEndpoint("mem://x"))
	require.NoError(err)
	defer rep.Close()
	req, err := tctx.Requester(NewEndpoint("mem://x"))
	require.NoError(err)
	defer req.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(req.Send(ctx, []byte("QUERY=")))
	data, err := rep.Recv(ctx)
	require.NoError(err)
	require.Equal("QUERY=", string(data))
	require.NoError(rep.Send(ctx, []byte("ACK=")))

	reply, err := req.Poll(ctx, time.Second)
	require.NoError(err)
	require.Equal("ACK=", string(reply))
}

func TestContextCloseStopsInproc(t *testing.T) {
	tctx := NewContext()
	rep, err := tctx.Replier(NewEndpoint("inproc://x"))
	require.NoError(t, err)
	dish, err := tctx.Dish(NewEndpoint("inproc://y"))
	require.NoError(t, err)

	require.NoError(t, tctx.Close())

	_, err = rep.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = dish.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestInprocPollWithoutSend(t *testing.T) {
	tctx := NewContext()
	defer tctx.Close()

	rep, err := tctx.Replier(NewEndpoint("inproc://p"))
	require.NoError(t, err)
	defer rep.Close()
	req, err := tctx.Requester(NewEndpoint("inproc://p"))
	require.NoError(t, err)

	_, err = req.Poll(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrNoPendingRequest)

	require.NoError(t, req.Close())
	require.ErrorIs(t, req.Send(context.Background(), nil), ErrClosed)
}
