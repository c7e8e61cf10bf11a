// internal/flap/flap.go

// Package flap implements the anti-flap hysteresis engine. Raw reachability
// samples are damped into a per-endpoint "stable status" that changes only
// after a configured run of consecutive identical samples.
package flap

import (
	"fmt"
	"time"

	"wardendns.io/internal/models"
)

// Config holds the hysteresis thresholds and policy toggles.
type Config struct {
	// UpThreshold is the number of consecutive up samples required before
	// the stable status becomes up. Must be positive.
	UpThreshold uint

	// DownThreshold is the symmetric requirement for down. Must be positive.
	DownThreshold uint

	// BootstrapFirstUp makes a brand-new endpoint whose very first sample
	// is up jump straight to a stable up status, skipping hysteresis.
	// Default is off: the first classification waits for the full run.
	BootstrapFirstUp bool
}

// DefaultConfig returns thresholds matching the conservative policy
func DefaultConfig() *Config {
	return &Config{
		UpThreshold:   2,
		DownThreshold: 3,
	}
}

// Validate checks if the hysteresis configuration is valid
func (c *Config) Validate() error {
	if c.UpThreshold == 0 {
		return fmt.Errorf("up threshold must be greater than 0")
	}
	if c.DownThreshold == 0 {
		return fmt.Errorf("down threshold must be greater than 0")
	}
	return nil
}

// Transition reports the stable-status comparison produced by one sample.
type Transition struct {
	Key  models.Endpoint
	Prev models.Status
	New  models.Status
}

// Changed returns true when the stable status actually moved
func (t Transition) Changed() bool {
	return t.Prev != t.New
}

// Notifiable reports whether this transition should produce a notification.
// Transitions into or out of the unknown sentinel are suppressed unless
// notifyOnFirst is set, so a process restart reclassifying every address
// does not turn into an alert storm.
func (t Transition) Notifiable(notifyOnFirst bool) bool {
	if !t.Changed() {
		return false
	}
	if notifyOnFirst {
		return true
	}
	return t.Prev != models.StatusUnknown && t.New != models.StatusUnknown
}

// Engine converts raw samples into damped host states.
type Engine struct {
	cfg *Config
}

// NewEngine creates a hysteresis engine
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Advance applies one observed sample to a prior host state and returns the
// next state plus the resulting stable-status transition. prev is nil on the
// first observation for a key. The function is pure; persistence and per-key
// serialization belong to the caller.
func (e *Engine) Advance(key models.Endpoint, prev *models.HostState, observed models.Status, now time.Time) (models.HostState, Transition) {
	if prev == nil {
		return e.first(key, observed, now)
	}

	next := *prev
	next.Key = key

	changed := prev.LastStatus != observed
	if observed == models.StatusUp {
		next.ConsecutiveUp = prev.ConsecutiveUp + 1
		next.ConsecutiveDown = 0
	} else {
		next.ConsecutiveDown = prev.ConsecutiveDown + 1
		next.ConsecutiveUp = 0
	}

	next.LastStatus = observed
	next.LastCheckedAt = &now
	if changed {
		next.LastChangedAt = &now
	}

	if observed == models.StatusUp && next.ConsecutiveUp >= e.cfg.UpThreshold && prev.StableStatus != models.StatusUp {
		next.StableStatus = models.StatusUp
		next.StableChangedAt = &now
	} else if observed == models.StatusDown && next.ConsecutiveDown >= e.cfg.DownThreshold && prev.StableStatus != models.StatusDown {
		next.StableStatus = models.StatusDown
		next.StableChangedAt = &now
	}

	return next, Transition{Key: key, Prev: prev.StableStatus, New: next.StableStatus}
}

// first initializes state on the first observation for a key
func (e *Engine) first(key models.Endpoint, observed models.Status, now time.Time) (models.HostState, Transition) {
	next := models.HostState{
		Key:           key,
		LastStatus:    observed,
		StableStatus:  models.StatusUnknown,
		LastCheckedAt: &now,
		LastChangedAt: &now,
	}

	switch {
	case observed == models.StatusUp && e.cfg.BootstrapFirstUp:
		// Historical variant: a reachable server is trusted immediately.
		next.ConsecutiveUp = e.cfg.UpThreshold
		next.StableStatus = models.StatusUp
		next.StableChangedAt = &now
	case observed == models.StatusUp:
		next.ConsecutiveUp = 1
		if e.cfg.UpThreshold == 1 {
			next.StableStatus = models.StatusUp
			next.StableChangedAt = &now
		}
	default:
		next.ConsecutiveDown = 1
		if e.cfg.DownThreshold == 1 {
			next.StableStatus = models.StatusDown
			next.StableChangedAt = &now
		}
	}

	return next, Transition{Key: key, Prev: models.StatusUnknown, New: next.StableStatus}
}
