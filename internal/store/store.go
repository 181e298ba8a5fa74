// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is an in-memory point store backend for a Provider.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridsim/pointbus"
)

// DefaultInterval is the publish period when none is configured.
const DefaultInterval = time.Second

// Store holds simulated points. Writes may only target seeded tags.
type Store struct {
	mu     sync.RWMutex
	points *pointbus.PointSet

	interval time.Duration
	changed  chan struct{}
	logger   *zap.Logger
}

// New seeds a store. interval <= 0 uses DefaultInterval.
func New(seed []pointbus.TagValue, interval time.Duration, logger *zap.Logger) *Store {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		points:   pointbus.NewPointSet(seed...),
		interval: interval,
		changed:  make(chan struct{}, 1),
		logger:   logger.Named("store"),
	}
}

func (s *Store) Query(_ context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pointbus.Ack(pointbus.EncodeTags(s.points.Tags()))
}

func (s *Store) Read(_ context.Context, tag string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.points.Get(tag)
	if !ok {
		return pointbus.Errf(pointbus.TagNotFound)
	}
	return pointbus.Ack(v)
}

// Write is all-or-nothing: one unknown tag rejects the whole write.
func (s *Store) Write(_ context.Context, points *pointbus.PointSet) string {
	if points.Len() == 0 {
		return pointbus.Errf("No points to write")
	}

	s.mu.Lock()
	for _, tag := range points.Tags() {
		if _, ok := s.points.Get(tag); !ok {
			s.mu.Unlock()
			s.logger.Warn("write to unknown tag", zap.String("tag", tag))
			return pointbus.Errf(pointbus.TagNotFound)
		}
	}
	for _, p := range points.Pairs() {
		s.points.Set(p.Tag, p.Value)
	}
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return pointbus.Ack("Write successful")
}

// Snapshot returns the current points.
func (s *Store) Snapshot() *pointbus.PointSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pointbus.NewPointSet(s.points.Pairs()...)
}

// PeriodicPublish publishes every interval and right after each write.
func (s *Store) PeriodicPublish(ctx context.Context, publish pointbus.PublishFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.changed:
		}
		if err := publish(ctx, pointbus.EncodeFrame(s.Snapshot())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("publish failed", zap.Error(err))
		}
	}
}
