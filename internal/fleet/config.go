package fleet

import "time"

// Config is mgr_config (spec.md §6), already parsed by the ambient config
// loader (viper, in cmd/supervisord) before it reaches the core.
type Config struct {
	UpdateRate       float64       // Hz, default 10.0
	InitTimeout      time.Duration // default 30s
	GoalStateTimeout time.Duration // default 10s

	// MaxStallTicks supplements spec.md with hal_402_mgr.py's
	// process_drive_transitions max_retries bound: if > 0, this many
	// consecutive ticks in which no drive changed CiA-402 state while the
	// supervisor is waiting on at least one drive escalates to fault_1 even before
	// GoalStateTimeout elapses. 0 disables the check (timeout-only,
	// matching spec.md exactly).
	MaxStallTicks int
}

// DefaultConfig returns mgr_config's documented defaults.
func DefaultConfig() Config {
	return Config{
		UpdateRate:       10.0,
		InitTimeout:      30 * time.Second,
		GoalStateTimeout: 10 * time.Second,
	}
}

func (c Config) period() time.Duration {
	if c.UpdateRate <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.UpdateRate)
}

func (c Config) timeoutFor(sub SubState) time.Duration {
	if sub.tag() == TagInit {
		return c.InitTimeout
	}
	return c.GoalStateTimeout
}
