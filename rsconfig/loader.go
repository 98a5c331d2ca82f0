// loader.go: frozen-config loading via argus
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package rsconfig

import (
	"encoding/json"

	"github.com/agilira/argus"
)

// Load reads path once via argus and unmarshals it into a Config,
// applying defaults for any zero-valued field before validating.
//
// argus also supports watching a file for changes, but dynamic
// reconfiguration is an explicit spec Non-goal (spec.md §1): Load never
// registers a watch, and the returned Config is meant to be treated as
// immutable for the life of the process once Validate succeeds.
func Load(path string) (*Config, error) {
	raw, err := argus.GetConfigValue(path, "")
	if err != nil {
		return nil, err
	}

	cfg := NewWithDefaults()
	if raw != nil {
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(buf, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	d := NewWithDefaults()
	if c.WorkerCount == 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.AppCount == 0 {
		c.AppCount = d.AppCount
	}
	if c.UpdateQueueSize == 0 {
		c.UpdateQueueSize = d.UpdateQueueSize
	}
	if c.OutboundRingInitialSize == 0 {
		c.OutboundRingInitialSize = d.OutboundRingInitialSize
	}
	if c.InboundRingInitialSize == 0 {
		c.InboundRingInitialSize = d.InboundRingInitialSize
	}
	if c.ReallocMultiplier == 0 {
		c.ReallocMultiplier = d.ReallocMultiplier
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.FanoutStackCap == 0 {
		c.FanoutStackCap = d.FanoutStackCap
	}
	if c.BackpressurePolicy == "" {
		c.BackpressurePolicy = d.BackpressurePolicy
	}
}
