// Package config holds the small set of tunables read once at process
// start, following the env-populated-struct shape used by the cmd/
// entrypoints this project descends from.
package config

import (
	"os"
	"strconv"
	"time"
)

// SandboxSize is the fixed guard-region reservation: 2^32 bytes.
const SandboxSize = uint64(1) << 32

// Config holds the tunables for one translation+execution run.
type Config struct {
	SoftTimeout time.Duration
	HardTimeout time.Duration
	StackSize   int // bytes, per worker OS thread
	LogLevel    string
}

// Default returns the spec-mandated defaults, overridable via environment
// variables so integration tests can shrink the timeouts.
func Default() Config {
	c := Config{
		SoftTimeout: 3000 * time.Millisecond,
		HardTimeout: 5000 * time.Millisecond,
		StackSize:   8192,
		LogLevel:    "info",
	}
	if v := os.Getenv("AJ64_SOFT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SoftTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("AJ64_HARD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HardTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("AJ64_STACK_KB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StackSize = n * 1024
		}
	}
	return c
}
