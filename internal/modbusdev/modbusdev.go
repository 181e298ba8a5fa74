// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modbusdev mirrors the coils and registers of a Modbus TCP device as
// provider points. Values are raw: coils and discrete inputs are "true" or
// "false", registers are unsigned decimal.
package modbusdev

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/gridsim/pointbus"
)

// Point kinds.
const (
	Coil     = "coil"
	Discrete = "discrete"
	Holding  = "holding"
	Input    = "input"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Device is the subset of modbus.Client the backend uses.
type Device interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Point maps a tag to one device address.
type Point struct {
	Tag     string
	Kind    string
	Address uint16
}

func (p Point) writable() bool {
	return p.Kind == Coil || p.Kind == Holding
}

// Config is minimal transport config.
type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
}

// Dial connects to a Modbus TCP device. The returned close func releases the
// connection.
func Dial(cfg Config) (Device, func() error, error) {
	if cfg.Endpoint == "" {
		return nil, nil, errors.New("modbusdev: endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, nil, fmt.Errorf("modbusdev: connect %s: %w", cfg.Endpoint, err)
	}
	return modbus.NewClient(h), h.Close, nil
}

// Backend serves a Device's points to a Provider. Device access is
// serialized.
type Backend struct {
	mu     sync.Mutex
	dev    Device
	points []Point
	index  map[string]Point

	interval time.Duration
	changed  chan struct{}
	logger   *zap.Logger
}

// New builds a backend over dev. Points keep their configured order.
func New(dev Device, points []Point, interval time.Duration, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	index := make(map[string]Point, len(points))
	for _, p := range points {
		index[p.Tag] = p
	}
	return &Backend{
		dev:      dev,
		points:   points,
		index:    index,
		interval: interval,
		changed:  make(chan struct{}, 1),
		logger:   logger.Named("modbusdev"),
	}
}

func (b *Backend) Query(_ context.Context) string {
	tags := make([]string, 0, len(b.points))
	for _, p := range b.points {
		tags = append(tags, p.Tag)
	}
	return pointbus.Ack(pointbus.EncodeTags(tags))
}

func (b *Backend) Read(_ context.Context, tag string) string {
	p, ok := b.index[tag]
	if !ok {
		return pointbus.Errf(pointbus.TagNotFound)
	}
	b.mu.Lock()
	v, err := b.read(p)
	b.mu.Unlock()
	if err != nil {
		b.logger.Warn("device read failed", zap.String("tag", tag), zap.Error(err))
		return pointbus.Errf("Device read failed")
	}
	return pointbus.Ack(v)
}

// Write checks every point before touching the device. A device error midway
// leaves earlier points written.
func (b *Backend) Write(_ context.Context, points *pointbus.PointSet) string {
	if points.Len() == 0 {
		return pointbus.Errf("No points to write")
	}

	type op struct {
		p     Point
		value uint16
	}
	ops := make([]op, 0, points.Len())
	for _, tv := range points.Pairs() {
		p, ok := b.index[tv.Tag]
		if !ok {
			return pointbus.Errf(pointbus.TagNotFound)
		}
		if !p.writable() {
			return pointbus.Errf("Tag '%s' is read-only", tv.Tag)
		}
		v, err := encodeValue(p.Kind, tv.Value)
		if err != nil {
			return pointbus.Errf("Invalid value '%s' for tag '%s'", tv.Value, tv.Tag)
		}
		ops = append(ops, op{p: p, value: v})
	}

	b.mu.Lock()
	for _, o := range ops {
		var err error
		if o.p.Kind == Coil {
			_, err = b.dev.WriteSingleCoil(o.p.Address, o.value)
		} else {
			_, err = b.dev.WriteSingleRegister(o.p.Address, o.value)
		}
		if err != nil {
			b.mu.Unlock()
			b.logger.Warn("device write failed", zap.String("tag", o.p.Tag), zap.Error(err))
			return pointbus.Errf("Device write failed")
		}
	}
	b.mu.Unlock()

	select {
	case b.changed <- struct{}{}:
	default:
	}
	return pointbus.Ack("Write successful")
}

// PeriodicPublish polls every point each interval and right after a write.
// Points that fail to read are left out of the frame.
func (b *Backend) PeriodicPublish(ctx context.Context, publish pointbus.PublishFunc) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-b.changed:
		}
		ps := b.snapshot()
		if ps.Len() == 0 {
			continue
		}
		if err := publish(ctx, pointbus.EncodeFrame(ps)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("publish failed", zap.Error(err))
		}
	}
}

func (b *Backend) snapshot() *pointbus.PointSet {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := pointbus.NewPointSet()
	for _, p := range b.points {
		v, err := b.read(p)
		if err != nil {
			b.logger.Debug("poll failed", zap.String("tag", p.Tag), zap.Error(err))
			continue
		}
		ps.Set(p.Tag, v)
	}
	return ps
}

// read must be called with b.mu held.
func (b *Backend) read(p Point) (string, error) {
	var (
		raw []byte
		err error
	)
	switch p.Kind {
	case Coil:
		raw, err = b.dev.ReadCoils(p.Address, 1)
	case Discrete:
		raw, err = b.dev.ReadDiscreteInputs(p.Address, 1)
	case Holding:
		raw, err = b.dev.ReadHoldingRegisters(p.Address, 1)
	case Input:
		raw, err = b.dev.ReadInputRegisters(p.Address, 1)
	default:
		return "", fmt.Errorf("modbusdev: unknown kind %q", p.Kind)
	}
	if err != nil {
		return "", err
	}
	return decodeValue(p.Kind, raw)
}

func decodeValue(kind string, raw []byte) (string, error) {
	switch kind {
	case Coil, Discrete:
		if len(raw) < 1 {
			return "", errors.New("modbusdev: short bit payload")
		}
		return strconv.FormatBool(raw[0]&1 != 0), nil
	default:
		if len(raw) < 2 {
			return "", errors.New("modbusdev: short register payload")
		}
		return strconv.FormatUint(uint64(uint16(raw[0])<<8|uint16(raw[1])), 10), nil
	}
}

func encodeValue(kind, value string) (uint16, error) {
	if kind == Coil {
		on, err := strconv.ParseBool(value)
		if err != nil {
			return 0, err
		}
		if on {
			return coilOn, nil
		}
		return coilOff, nil
	}
	v, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
