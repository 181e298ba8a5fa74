// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// MaxGroupLen is the longest group name a radio/dish transport accepts.
const MaxGroupLen = 15

// Endpoint is a transport address of the form scheme://host:port[;iface].
type Endpoint struct {
	Address string
}

// NewEndpoint wraps an address string.
func NewEndpoint(addr string) Endpoint {
	return Endpoint{Address: addr}
}

func (e Endpoint) String() string {
	return e.Address
}

// Scheme returns the part before "://", or "" when the address has none.
func (e Endpoint) Scheme() string {
	i := strings.Index(e.Address, "://")
	if i < 0 {
		return ""
	}
	return e.Address[:i]
}

// Target returns the address without its scheme and interface suffix.
func (e Endpoint) Target() string {
	rest := e.withoutInterface()
	if i := strings.Index(rest, "://"); i >= 0 {
		return rest[i+3:]
	}
	return rest
}

// Interface returns the ";iface" suffix without the separator.
func (e Endpoint) Interface() string {
	i := e.interfaceIndex()
	if i < 0 {
		return ""
	}
	return e.Address[i+1:]
}

// Group derives the multicast group id for the endpoint. The interface suffix
// is not hashed, so endpoints that differ only by bound interface share a
// group. The hash matches the 64-bit libstdc++ std::hash<std::string>, which is
// what existing deployments use; the hex rendering is cut to MaxGroupLen.
// Distinct addresses may collide after truncation.
func (e Endpoint) Group() string {
	h := hashBytes([]byte(e.withoutInterface()))
	g := strconv.FormatUint(h, 16)
	if len(g) > MaxGroupLen {
		g = g[:MaxGroupLen]
	}
	return g
}

func (e Endpoint) withoutInterface() string {
	i := e.interfaceIndex()
	if i < 0 {
		return e.Address
	}
	return e.Address[:i]
}

// interfaceIndex locates a ';' that follows the host part.
func (e Endpoint) interfaceIndex() int {
	start := 0
	if i := strings.Index(e.Address, "://"); i >= 0 {
		start = i + 3
	}
	i := strings.LastIndexByte(e.Address[start:], ';')
	if i < 0 {
		return -1
	}
	return start + i
}

const (
	hashSeed uint64 = 0xc70f6907
	hashMul  uint64 = 0xc6a4a793<<32 | 0x5bd1e995
)

func shiftMix(v uint64) uint64 {
	return v ^ (v >> 47)
}

// hashBytes is the MurmurHash2-derived _Hash_bytes from libstdc++ for 64-bit
// size_t, seeded the way std::hash<std::string> seeds it.
func hashBytes(b []byte) uint64 {
	n := len(b)
	aligned := n &^ 7
	h := hashSeed ^ (uint64(n) * hashMul)

	for p := 0; p < aligned; p += 8 {
		data := shiftMix(binary.LittleEndian.Uint64(b[p:p+8])*hashMul) * hashMul
		h ^= data
		h *= hashMul
	}

	if n&7 != 0 {
		var data uint64
		tail := b[aligned:]
		for i := len(tail) - 1; i >= 0; i-- {
			data = data<<8 | uint64(tail[i])
		}
		h ^= data
		h *= hashMul
	}

	h = shiftMix(h) * hashMul
	return shiftMix(h)
}
