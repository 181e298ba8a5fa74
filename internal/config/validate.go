// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	p := cfg.Provider

	if p.Server == "" {
		return fmt.Errorf("provider: server endpoint required")
	}
	if p.Publish == "" {
		return fmt.Errorf("provider: publish endpoint required")
	}
	if p.PublishIntervalMs < 0 {
		return fmt.Errorf("provider: publish_interval_ms must not be negative")
	}

	switch p.Backend {
	case "", BackendMemory:
		if err := validatePoints(p.Points); err != nil {
			return err
		}
	case BackendModbus:
		if p.Modbus == nil {
			return fmt.Errorf("provider: backend %q requires a modbus section", BackendModbus)
		}
		if err := validateModbus(p.Modbus); err != nil {
			return err
		}
	default:
		return fmt.Errorf("provider: unknown backend %q", p.Backend)
	}

	if cfg.Log.Level != "" {
		if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	return nil
}

func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("point: empty tag")
	}
	// tags travel inside "tag:value," fields
	if strings.ContainsAny(tag, ",:=\x00") {
		return fmt.Errorf("point %q: tag must not contain ',', ':', '=' or NUL", tag)
	}
	return nil
}

func validatePoints(points []PointConfig) error {
	seen := make(map[string]struct{}, len(points))
	for _, pt := range points {
		if err := validateTag(pt.Tag); err != nil {
			return err
		}
		if strings.ContainsAny(pt.Value, ",\x00") {
			return fmt.Errorf("point %q: value must not contain ',' or NUL", pt.Tag)
		}
		if _, dup := seen[pt.Tag]; dup {
			return fmt.Errorf("point %q: duplicate tag", pt.Tag)
		}
		seen[pt.Tag] = struct{}{}
	}
	return nil
}

func validateModbus(m *ModbusConfig) error {
	if m.Endpoint == "" {
		return fmt.Errorf("modbus: endpoint required")
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("modbus: timeout_ms must not be negative")
	}
	if len(m.Points) == 0 {
		return fmt.Errorf("modbus: at least one point required")
	}

	seen := make(map[string]struct{}, len(m.Points))
	// key = kind | address
	owner := make(map[string]string, len(m.Points))
	for _, pt := range m.Points {
		if err := validateTag(pt.Tag); err != nil {
			return err
		}
		switch pt.Kind {
		case KindCoil, KindDiscrete, KindHolding, KindInput:
		default:
			return fmt.Errorf("modbus point %q: unknown kind %q", pt.Tag, pt.Kind)
		}
		if _, dup := seen[pt.Tag]; dup {
			return fmt.Errorf("modbus point %q: duplicate tag", pt.Tag)
		}
		seen[pt.Tag] = struct{}{}

		key := fmt.Sprintf("%s|%d", pt.Kind, pt.Address)
		if prev, ok := owner[key]; ok {
			return fmt.Errorf(
				"modbus address collision: kind=%s address=%d used by %q and %q",
				pt.Kind, pt.Address, prev, pt.Tag,
			)
		}
		owner[key] = pt.Tag
	}
	return nil
}
