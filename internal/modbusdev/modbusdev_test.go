// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package modbusdev

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridsim/pointbus"
)

// fakeDevice is an in-memory register map.
type fakeDevice struct {
	mu       sync.Mutex
	coils    map[uint16]bool
	discrete map[uint16]bool
	holding  map[uint16]uint16
	input    map[uint16]uint16
	fail     bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		coils:    map[uint16]bool{1: true},
		discrete: map[uint16]bool{2: false},
		holding:  map[uint16]uint16{10: 400},
		input:    map[uint16]uint16{20: 65535},
	}
}

var errDevice = errors.New("device offline")

func bits(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func reg(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func (d *fakeDevice) ReadCoils(addr, _ uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	return bits(d.coils[addr]), nil
}

func (d *fakeDevice) ReadDiscreteInputs(addr, _ uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	return bits(d.discrete[addr]), nil
}

func (d *fakeDevice) ReadHoldingRegisters(addr, _ uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	return reg(d.holding[addr]), nil
}

func (d *fakeDevice) ReadInputRegisters(addr, _ uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	return reg(d.input[addr]), nil
}

func (d *fakeDevice) WriteSingleCoil(addr, value uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	d.coils[addr] = value == coilOn
	return reg(value), nil
}

func (d *fakeDevice) WriteSingleRegister(addr, value uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errDevice
	}
	d.holding[addr] = value
	return reg(value), nil
}

func newBackend(dev Device) *Backend {
	return New(dev, []Point{
		{Tag: "breaker-1.closed", Kind: Coil, Address: 1},
		{Tag: "relay-1.trip", Kind: Discrete, Address: 2},
		{Tag: "tap-1.position", Kind: Holding, Address: 10},
		{Tag: "meter-1.raw", Kind: Input, Address: 20},
	}, time.Hour, nil)
}

func TestQuery(t *testing.T) {
	b := newBackend(newFakeDevice())
	require.Equal(t, "ACK=breaker-1.closed,relay-1.trip,tap-1.position,meter-1.raw,", b.Query(context.Background()))
}

func TestRead(t *testing.T) {
	require := require.New(t)
	b := newBackend(newFakeDevice())
	ctx := context.Background()

	require.Equal("ACK=true", b.Read(ctx, "breaker-1.closed"))
	require.Equal("ACK=false", b.Read(ctx, "relay-1.trip"))
	require.Equal("ACK=400", b.Read(ctx, "tap-1.position"))
	require.Equal("ACK=65535", b.Read(ctx, "meter-1.raw"))
	require.Equal("ERR=Tag not found", b.Read(ctx, "nope"))
}

func TestReadDeviceFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.fail = true
	b := newBackend(dev)
	require.Equal(t, "ERR=Device read failed", b.Read(context.Background(), "tap-1.position"))
}

func TestWrite(t *testing.T) {
	require := require.New(t)
	dev := newFakeDevice()
	b := newBackend(dev)
	ctx := context.Background()

	reply := b.Write(ctx, pointbus.NewPointSet(
		pointbus.TagValue{Tag: "breaker-1.closed", Value: "false"},
		pointbus.TagValue{Tag: "tap-1.position", Value: "7"},
	))
	require.Equal("ACK=Write successful", reply)
	require.False(dev.coils[1])
	require.Equal(uint16(7), dev.holding[10])
	require.Equal("ACK=false", b.Read(ctx, "breaker-1.closed"))
}

func TestWriteRejectsBeforeTouchingDevice(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		value string
		want  string
	}{
		{"unknown tag", "nope", "1", "ERR=Tag not found"},
		{"read-only discrete", "relay-1.trip", "true", "ERR=Tag 'relay-1.trip' is read-only"},
		{"read-only input", "meter-1.raw", "1", "ERR=Tag 'meter-1.raw' is read-only"},
		{"bad bool", "breaker-1.closed", "maybe", "ERR=Invalid value 'maybe' for tag 'breaker-1.closed'"},
		{"register overflow", "tap-1.position", "70000", "ERR=Invalid value '70000' for tag 'tap-1.position'"},
		{"negative register", "tap-1.position", "-1", "ERR=Invalid value '-1' for tag 'tap-1.position'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			b := newBackend(dev)
			reply := b.Write(context.Background(), pointbus.NewPointSet(
				pointbus.TagValue{Tag: "tap-1.position", Value: "9"},
				pointbus.TagValue{Tag: tt.tag, Value: tt.value},
			))
			require.Equal(t, tt.want, reply)
			require.Equal(t, uint16(400), dev.holding[10])
		})
	}
}

func TestPeriodicPublish(t *testing.T) {
	require := require.New(t)
	dev := newFakeDevice()
	b := newBackend(dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan string, 4)
	go b.PeriodicPublish(ctx, func(_ context.Context, frame string) error {
		frames <- frame
		return nil
	})

	b.Write(ctx, pointbus.NewPointSet(pointbus.TagValue{Tag: "tap-1.position", Value: "12"}))

	select {
	case frame := <-frames:
		require.Equal("breaker-1.closed:true,relay-1.trip:false,tap-1.position:12,meter-1.raw:65535,", frame)
	case <-time.After(5 * time.Second):
		require.FailNow("no frame")
	}
}

func TestDecodeValue(t *testing.T) {
	_, err := decodeValue(Holding, []byte{1})
	require.Error(t, err)
	_, err = decodeValue(Coil, nil)
	require.Error(t, err)

	v, err := decodeValue(Coil, []byte{0x03})
	require.NoError(t, err)
	require.Equal(t, "true", v)
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, _, err := Dial(Config{})
	require.Error(t, err)
}
