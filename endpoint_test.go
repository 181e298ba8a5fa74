// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashBytesVectors(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"", 0x553e93901e462a6e},
		{"tcp://239.0.0.1:40000", 0x5d7a386c81c08281},
		{"udp://239.0.0.1:40000", 0x54386972605942ba},
		{"inproc://bus", 0x547bb3971a762e36},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, hashBytes([]byte(tt.in)))
		})
	}
}

func TestGroup(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"tcp://239.0.0.1:40000", "5d7a386c81c0828"},
		{"tcp://239.0.0.1:40000;eth0", "5d7a386c81c0828"},
		{"tcp://239.0.0.1:40000;eth1", "5d7a386c81c0828"},
		{"udp://239.0.0.1:40000", "54386972605942b"},
		{"udp://239.0.0.1:40000;eth0", "54386972605942b"},
		{"udp://239.0.0.1:40000;eth1", "54386972605942b"},
		{"inproc://bus", "547bb3971a762e3"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			g := NewEndpoint(tt.addr).Group()
			require.Equal(t, tt.want, g)
			require.LessOrEqual(t, len(g), MaxGroupLen)
		})
	}
}

func TestGroupIsDeterministic(t *testing.T) {
	a := NewEndpoint("udp://239.1.2.3:5000;eth0")
	b := NewEndpoint("udp://239.1.2.3:5000;wlan0")
	c := NewEndpoint("udp://239.1.2.3:5001")

	require.Equal(t, a.Group(), a.Group())
	require.Equal(t, a.Group(), b.Group())
	require.NotEqual(t, a.Group(), c.Group())
}

func TestEndpointParts(t *testing.T) {
	tests := []struct {
		addr   string
		scheme string
		target string
		iface  string
	}{
		{"udp://239.0.0.1:40000;eth0", "udp", "239.0.0.1:40000", "eth0"},
		{"tcp://127.0.0.1:5555", "tcp", "127.0.0.1:5555", ""},
		{"inproc://bus", "inproc", "bus", ""},
		{"localhost:1", "", "localhost:1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			require := require.New(t)
			ep := NewEndpoint(tt.addr)
			require.Equal(tt.scheme, ep.Scheme())
			require.Equal(tt.target, ep.Target())
			require.Equal(tt.iface, ep.Interface())
			require.Equal(tt.addr, ep.String())
		})
	}
}
