// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/luxfi/autorpc/abi"
	"github.com/luxfi/autorpc/transport"
	"github.com/luxfi/autorpc/wire"
)

// Config holds the capacities and defaults of an Engine.
type Config struct {
	// Profile names the placement profile; empty selects the build
	// target's.
	Profile string `toml:"profile"`

	// MaxPayload bounds the parameter block of one call, both directions.
	MaxPayload int `toml:"max-payload"`
	// ScratchCapacity bounds the 16-byte aligned total of reference and
	// text parameters in one call.
	ScratchCapacity int `toml:"scratch-capacity"`
	// MaxSlots bounds the generic argument words, context word included.
	MaxSlots int `toml:"max-slots"`
	// MaxParamSize bounds any single parameter.
	MaxParamSize int `toml:"max-param-size"`
	// MaxNameLength bounds registered and called names.
	MaxNameLength int `toml:"max-name-length"`

	// NativeEndian sends every payload in host order with the swap flag
	// clear.
	NativeEndian bool `toml:"native-endian"`

	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig seeds the engine's outgoing call options.
type DefaultsConfig struct {
	Priority    uint8 `toml:"priority"`
	Reliability uint8 `toml:"reliability"`
	Channel     uint8 `toml:"channel"`
	Timestamp   bool  `toml:"timestamp"`
}

// DefaultConfig returns the built-in capacities.
func DefaultConfig() Config {
	return Config{
		MaxPayload:      64 * 1024,
		ScratchCapacity: abi.DefaultScratchCapacity,
		MaxSlots:        abi.DefaultMaxSlots,
		MaxParamSize:    64 * 1024,
		MaxNameLength:   wire.MaxNameLength,
		Defaults: DefaultsConfig{
			Priority:    uint8(transport.PriorityHigh),
			Reliability: uint8(transport.ReliableOrdered),
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the capacities for consistency.
func (c Config) Validate() error {
	if _, err := abi.ProfileByName(c.Profile); err != nil {
		return err
	}
	switch {
	case c.MaxPayload <= 0:
		return fmt.Errorf("autorpc: max-payload must be positive, got %d", c.MaxPayload)
	case c.ScratchCapacity <= 0:
		return fmt.Errorf("autorpc: scratch-capacity must be positive, got %d", c.ScratchCapacity)
	case c.MaxSlots < 1:
		return fmt.Errorf("autorpc: max-slots must leave room for the context word, got %d", c.MaxSlots)
	case c.MaxParamSize < 0:
		return fmt.Errorf("autorpc: max-param-size must not be negative, got %d", c.MaxParamSize)
	case c.MaxNameLength <= 0 || c.MaxNameLength > wire.MaxNameLength:
		return fmt.Errorf("autorpc: max-name-length must be in 1..%d, got %d", wire.MaxNameLength, c.MaxNameLength)
	case c.Defaults.Priority > uint8(transport.PriorityLow):
		return fmt.Errorf("autorpc: unknown priority %d", c.Defaults.Priority)
	case c.Defaults.Reliability > uint8(transport.ReliableSequenced):
		return fmt.Errorf("autorpc: unknown reliability %d", c.Defaults.Reliability)
	}
	return nil
}

func (c Config) limits() abi.Limits {
	return abi.Limits{
		MaxSlots:        c.MaxSlots,
		ScratchCapacity: c.ScratchCapacity,
		MaxParamSize:    c.MaxParamSize,
	}
}

func (c Config) defaultCallOptions() CallOptions {
	return CallOptions{
		Timestamp:   c.Defaults.Timestamp,
		Priority:    transport.Priority(c.Defaults.Priority),
		Reliability: transport.Reliability(c.Defaults.Reliability),
		Channel:     c.Defaults.Channel,
		Broadcast:   true,
	}
}
