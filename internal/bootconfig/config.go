// Package bootconfig loads boot-time kernel tunables from a TOML file,
// validating every override (a known scheduler mode, positive rates and
// intervals, a bounded IRQ cycle budget) before the kernel is constructed. Nothing here is read again after boot: the
// kernel itself has no notion of a config file.
package bootconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Compile-time constants, stable across ports (spec §6).
const (
	MaxTasks               = 32
	MaxChannels             = 16
	MaxMessages             = 32
	MaxMessageSize          = 256
	KernelStack             = 4096
	UserStack               = 8192
	SysMax                  = 63
	DeadlineCheckInterval   = 100
	TimerHz                 = 1000
	MaxIRQCycles            = 2000
)

// Config is the decoded boot configuration.
type Config struct {
	// SchedulerMode is "edf" or "rms". Defaults to "edf".
	SchedulerMode string `toml:"scheduler_mode"`

	// TimerHz overrides the default 1000 Hz timer rate. Must be > 0.
	TimerHz int `toml:"timer_hz"`

	// DeadlineCheckInterval overrides the default 100-tick deadline sweep
	// period. Must be > 0.
	DeadlineCheckInterval uint64 `toml:"deadline_check_interval"`

	// MaxIRQCycles overrides the default interrupt-path cycle budget. Must
	// be > 0 and is never allowed to exceed a generous upper bound, since an
	// unbounded value defeats the determinism guarantee the budget exists
	// to enforce.
	MaxIRQCycles uint64 `toml:"max_irq_cycles"`
}

// Default returns the configuration matching the spec's stated defaults.
func Default() Config {
	return Config{
		SchedulerMode:         "edf",
		TimerHz:               TimerHz,
		DeadlineCheckInterval: DeadlineCheckInterval,
		MaxIRQCycles:          MaxIRQCycles,
	}
}

// Load decodes a TOML boot config from path, applying Default() for any
// zero-valued field, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootconfig: decode %s: %w", path, err)
	}
	if err := cfg.normalize().Validate(); err != nil {
		return Config{}, err
	}
	return cfg.normalize(), nil
}

func (c Config) normalize() Config {
	d := Default()
	if c.SchedulerMode == "" {
		c.SchedulerMode = d.SchedulerMode
	}
	if c.TimerHz == 0 {
		c.TimerHz = d.TimerHz
	}
	if c.DeadlineCheckInterval == 0 {
		c.DeadlineCheckInterval = d.DeadlineCheckInterval
	}
	if c.MaxIRQCycles == 0 {
		c.MaxIRQCycles = d.MaxIRQCycles
	}
	return c
}

// Validate rejects configurations that would violate the spec's static
// bounds or determinism guarantees. It never silently clamps.
func (c Config) Validate() error {
	switch c.SchedulerMode {
	case "edf", "rms":
	default:
		return fmt.Errorf("bootconfig: scheduler_mode must be \"edf\" or \"rms\", got %q", c.SchedulerMode)
	}
	if c.TimerHz <= 0 {
		return fmt.Errorf("bootconfig: timer_hz must be positive, got %d", c.TimerHz)
	}
	if c.DeadlineCheckInterval == 0 {
		return fmt.Errorf("bootconfig: deadline_check_interval must be positive")
	}
	if c.MaxIRQCycles == 0 || c.MaxIRQCycles > 1_000_000 {
		return fmt.Errorf("bootconfig: max_irq_cycles out of range: %d", c.MaxIRQCycles)
	}
	return nil
}
