// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pointbus is the point-exchange messaging layer of the ICS
// simulation testbed. Field devices and data providers use it to read and
// write point values over a reliable request/reply channel and to receive
// point snapshots over a best-effort group multicast channel.
//
// # Wire grammar
//
// All messages are text and carry a trailing NUL at the framing boundary:
//
//	request:  QUERY=            READ=<tag>          WRITE=<tag>:<value>,...,
//	reply:    ACK=<body>        ERR=<reason>
//	publish:  <tag>:<value>,<tag>:<value>,...,
//
// Ops are matched case-insensitively. Values are text; "true" and "false"
// are booleans and anything else is a decimal number to the caller.
//
// # Transport selection
//
// Sockets are created through an explicitly constructed Context. The address
// scheme picks the transport:
//
//	inproc://name          all socket kinds, in-process (tests, embedding)
//	tcp://host:port        request/reply with length-prefixed frames
//	grpc://host:port       request/reply as unary gRPC calls
//	udp://group:port;eth0  radio/dish multicast, optional interface
//
// # Usage
//
// Provider side:
//
//	tctx := pointbus.NewContext(pointbus.WithLogger(logger))
//	defer tctx.Close()
//
//	p, err := pointbus.NewProvider(tctx,
//	    pointbus.NewEndpoint("tcp://0.0.0.0:5555"),
//	    pointbus.NewEndpoint("udp://239.0.0.1:40000;eth0"),
//	    backend)
//	if err != nil {
//	    logger.Fatal("provider", zap.Error(err))
//	}
//	err = p.Run(ctx)
//
// Device side:
//
//	c, err := pointbus.NewClient(tctx, pointbus.NewEndpoint("tcp://10.0.0.5:5555"))
//	c.SetHandler(func(body string) { fmt.Println(body) })
//	err = c.Send(ctx, pointbus.Encode(pointbus.OpRead, "bus-1.active"))
//
//	s, err := pointbus.NewSubscriber(tctx, pointbus.NewEndpoint("udp://239.0.0.1:40000;eth1"))
//	s.SetHandler(func(frame string) { ... })
//	go s.Run(ctx)
//
// # Architecture
//
//   - endpoint.go: addresses and multicast group derivation
//   - codec.go, pointset.go: command, reply and frame encoding
//   - transport.go: Context, socket interfaces and scheme registry
//   - inproc.go, tcp.go, grpc.go, udp.go: transports
//   - client.go: Lazy Pirate requester
//   - server.go, provider.go: request loop and command dispatch
//   - publisher.go, subscriber.go: fragmenting publish and receive loop
//   - json.go: JSON-RPC gateway onto a Provider
//   - metrics.go: Prometheus collectors
package pointbus
