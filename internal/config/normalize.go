// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "github.com/gridsim/pointbus"

const (
	DefaultPublishIntervalMs = 1000
	DefaultModbusTimeoutMs   = 1000
	DefaultLogLevel          = "info"
)

// Normalize applies defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	p := &cfg.Provider

	if p.Name == "" {
		p.Name = "pointd"
	}
	if p.Backend == "" {
		p.Backend = BackendMemory
	}
	if p.PublishIntervalMs == 0 {
		p.PublishIntervalMs = DefaultPublishIntervalMs
	}

	// bare host:port means tcp for commands and udp for publish
	if endpointScheme(p.Server) == "" {
		p.Server = pointbus.SchemeTCP + "://" + p.Server
	}
	if endpointScheme(p.Publish) == "" {
		p.Publish = pointbus.SchemeUDP + "://" + p.Publish
	}

	if p.Modbus != nil && p.Modbus.TimeoutMs == 0 {
		p.Modbus.TimeoutMs = DefaultModbusTimeoutMs
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func endpointScheme(addr string) string {
	return pointbus.NewEndpoint(addr).Scheme()
}
