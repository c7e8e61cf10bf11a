// internal/flap/flap_test.go
package flap

import (
	"testing"
	"time"

	"wardendns.io/internal/models"
)

var testKey = models.NewEndpoint("zone1", "app.example.com", "A", "203.0.113.10")

// run feeds a sample sequence into the engine from a cold start and returns
// the final state plus every transition produced.
func run(t *testing.T, cfg *Config, samples []models.Status) (models.HostState, []Transition) {
	t.Helper()

	engine := NewEngine(cfg)
	now := time.Unix(1700000000, 0)

	var state *models.HostState
	var transitions []Transition

	for _, observed := range samples {
		next, tr := engine.Advance(testKey, state, observed, now)
		state = &next
		transitions = append(transitions, tr)
		now = now.Add(10 * time.Second)
	}

	if state == nil {
		t.Fatal("no samples fed")
	}
	return *state, transitions
}

func statuses(ups ...bool) []models.Status {
	out := make([]models.Status, len(ups))
	for i, up := range ups {
		out[i] = models.StatusFromSample(up)
	}
	return out
}

func TestUpTransitionAtThreshold(t *testing.T) {
	// Scenario: up_threshold=2, new address, samples [up, up].
	cfg := &Config{UpThreshold: 2, DownThreshold: 3}

	state, transitions := run(t, cfg, statuses(true, true))

	if transitions[0].Changed() {
		t.Errorf("first sample should not change stable status, got %s -> %s",
			transitions[0].Prev, transitions[0].New)
	}
	if transitions[1].Prev != models.StatusUnknown || transitions[1].New != models.StatusUp {
		t.Errorf("second sample: want unknown -> up, got %s -> %s",
			transitions[1].Prev, transitions[1].New)
	}
	if state.StableStatus != models.StatusUp {
		t.Errorf("final stable status = %s, want up", state.StableStatus)
	}
	if state.StableChangedAt == nil {
		t.Error("StableChangedAt not set on transition")
	}
}

func TestFlappingNeverStabilizes(t *testing.T) {
	// Alternating samples never reach 2 consecutive ups or 3 consecutive downs.
	cfg := &Config{UpThreshold: 2, DownThreshold: 3}

	state, transitions := run(t, cfg, statuses(true, false, true, false, true, false))

	for i, tr := range transitions {
		if tr.Changed() {
			t.Errorf("sample %d: unexpected transition %s -> %s", i, tr.Prev, tr.New)
		}
	}
	if state.StableStatus != models.StatusUnknown {
		t.Errorf("final stable status = %s, want unknown", state.StableStatus)
	}
}

func TestDownTransitionAfterThirdSample(t *testing.T) {
	cfg := &Config{UpThreshold: 2, DownThreshold: 3}
	engine := NewEngine(cfg)
	now := time.Unix(1700000000, 0)

	// Address already stable up.
	changed := now.Add(-time.Hour)
	state := models.HostState{
		Key:             testKey,
		LastStatus:      models.StatusUp,
		ConsecutiveUp:   5,
		StableStatus:    models.StatusUp,
		StableChangedAt: &changed,
	}

	for i := 1; i <= 3; i++ {
		var tr Transition
		state, tr = engine.Advance(testKey, &state, models.StatusDown, now)
		now = now.Add(10 * time.Second)

		if i < 3 && tr.Changed() {
			t.Errorf("sample %d: transitioned early to %s", i, tr.New)
		}
		if i == 3 {
			if tr.Prev != models.StatusUp || tr.New != models.StatusDown {
				t.Errorf("sample 3: want up -> down, got %s -> %s", tr.Prev, tr.New)
			}
		}
	}

	if state.StableStatus != models.StatusDown {
		t.Errorf("final stable status = %s, want down", state.StableStatus)
	}
}

func TestCounterExclusivity(t *testing.T) {
	cfg := &Config{UpThreshold: 3, DownThreshold: 3}
	engine := NewEngine(cfg)
	now := time.Unix(1700000000, 0)

	samples := statuses(true, true, false, true, false, false, false, true)

	var state *models.HostState
	for i, observed := range samples {
		next, _ := engine.Advance(testKey, state, observed, now)
		state = &next
		now = now.Add(time.Second)

		if next.ConsecutiveUp != 0 && next.ConsecutiveDown != 0 {
			t.Fatalf("sample %d: both counters nonzero (up=%d down=%d)",
				i, next.ConsecutiveUp, next.ConsecutiveDown)
		}
		if next.ConsecutiveUp == 0 && next.ConsecutiveDown == 0 {
			t.Fatalf("sample %d: both counters zero after an observation", i)
		}
	}
}

func TestMonotonicity(t *testing.T) {
	// Stable status changes only once a matching run reaches the threshold.
	cfg := &Config{UpThreshold: 2, DownThreshold: 3}
	engine := NewEngine(cfg)
	now := time.Unix(1700000000, 0)

	samples := statuses(true, false, false, true, true, false, false, false)

	var state *models.HostState
	var runLen uint
	var last models.Status

	for i, observed := range samples {
		if observed == last {
			runLen++
		} else {
			runLen = 1
			last = observed
		}

		next, tr := engine.Advance(testKey, state, observed, now)
		state = &next
		now = now.Add(time.Second)

		if tr.Changed() {
			threshold := cfg.UpThreshold
			if observed == models.StatusDown {
				threshold = cfg.DownThreshold
			}
			if runLen < threshold {
				t.Errorf("sample %d: transition %s -> %s after run of %d (threshold %d)",
					i, tr.Prev, tr.New, runLen, threshold)
			}
		}
	}
}

func TestRepeatedSamplesDoNotRetransition(t *testing.T) {
	cfg := &Config{UpThreshold: 2, DownThreshold: 3}

	_, transitions := run(t, cfg, statuses(true, true, true, true))

	var changes int
	for _, tr := range transitions {
		if tr.Changed() {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("got %d transitions for a steady-up sequence, want 1", changes)
	}
}

func TestBootstrapFirstUp(t *testing.T) {
	cfg := &Config{UpThreshold: 2, DownThreshold: 3, BootstrapFirstUp: true}
	engine := NewEngine(cfg)
	now := time.Unix(1700000000, 0)

	state, tr := engine.Advance(testKey, nil, models.StatusUp, now)

	if state.StableStatus != models.StatusUp {
		t.Errorf("stable status = %s, want up on bootstrap", state.StableStatus)
	}
	if state.ConsecutiveUp != cfg.UpThreshold {
		t.Errorf("consecutive up = %d, want %d", state.ConsecutiveUp, cfg.UpThreshold)
	}
	if tr.New != models.StatusUp {
		t.Errorf("transition new = %s, want up", tr.New)
	}

	// A first down sample never bootstraps, regardless of policy.
	state, _ = engine.Advance(testKey, nil, models.StatusDown, now)
	if state.StableStatus != models.StatusUnknown {
		t.Errorf("first down sample: stable status = %s, want unknown", state.StableStatus)
	}
	if state.ConsecutiveDown != 1 {
		t.Errorf("consecutive down = %d, want 1", state.ConsecutiveDown)
	}
}

func TestNotifiable(t *testing.T) {
	tests := []struct {
		name          string
		prev, next    models.Status
		notifyOnFirst bool
		want          bool
	}{
		{"up to down", models.StatusUp, models.StatusDown, false, true},
		{"down to up", models.StatusDown, models.StatusUp, false, true},
		{"unchanged", models.StatusUp, models.StatusUp, false, false},
		{"first classification suppressed", models.StatusUnknown, models.StatusUp, false, false},
		{"first classification wanted", models.StatusUnknown, models.StatusUp, true, true},
		{"unchanged with notify-on-first", models.StatusDown, models.StatusDown, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Transition{Key: testKey, Prev: tt.prev, New: tt.next}
			if got := tr.Notifiable(tt.notifyOnFirst); got != tt.want {
				t.Errorf("Notifiable(%v) = %v, want %v", tt.notifyOnFirst, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{UpThreshold: 0, DownThreshold: 3}).Validate(); err == nil {
		t.Error("zero up threshold accepted")
	}
	if err := (&Config{UpThreshold: 2, DownThreshold: 0}).Validate(); err == nil {
		t.Error("zero down threshold accepted")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}
