// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the YAML configuration of the pointbus binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridsim/pointbus"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendModbus = "modbus"
)

// Modbus point kinds.
const (
	KindCoil     = "coil"
	KindDiscrete = "discrete"
	KindHolding  = "holding"
	KindInput    = "input"
)

type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// ---- PROVIDER ----

type ProviderConfig struct {
	Name              string        `yaml:"name"`
	Server            string        `yaml:"server"`
	Publish           string        `yaml:"publish"`
	PublishIntervalMs int           `yaml:"publish_interval_ms"`
	Backend           string        `yaml:"backend"`
	Points            []PointConfig `yaml:"points"`
	Modbus            *ModbusConfig `yaml:"modbus"`
}

// PublishInterval is the configured interval as a duration.
func (p ProviderConfig) PublishInterval() time.Duration {
	return time.Duration(p.PublishIntervalMs) * time.Millisecond
}

// ---- MEMORY BACKEND ----

type PointConfig struct {
	Tag   string `yaml:"tag"`
	Value string `yaml:"value"`
}

// Seed converts the configured points for the memory backend.
func (p ProviderConfig) Seed() []pointbus.TagValue {
	out := make([]pointbus.TagValue, 0, len(p.Points))
	for _, pt := range p.Points {
		out = append(out, pointbus.TagValue{Tag: pt.Tag, Value: pt.Value})
	}
	return out
}

// ---- MODBUS BACKEND ----

type ModbusConfig struct {
	Endpoint  string              `yaml:"endpoint"`
	UnitID    uint8               `yaml:"unit_id"`
	TimeoutMs int                 `yaml:"timeout_ms"`
	Points    []ModbusPointConfig `yaml:"points"`
}

// Timeout is the per-request device timeout.
func (m ModbusConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

type ModbusPointConfig struct {
	Tag     string `yaml:"tag"`
	Kind    string `yaml:"kind"`
	Address uint16 `yaml:"address"`
}

// ---- HTTP ----

type HTTPConfig struct {
	// Listen serves the JSON-RPC gateway on /rpc and metrics on /metrics.
	// Empty disables HTTP.
	Listen string `yaml:"listen"`
}

// ---- LOG ----

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads, validates and normalizes the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse is Load for an in-memory document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}
