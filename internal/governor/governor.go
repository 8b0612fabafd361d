// Package governor keeps scan concurrency inside a host-load ceiling
// derived from the user's power level. It samples the one-minute load
// average, normalizes it per CPU, and shrinks or pauses the worker budget
// when the machine runs hot, restoring it once the load falls back below a
// hysteresis floor.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/metrics"
)

// State is the governor's pressure posture.
type State string

const (
	// StateNormal runs the full worker budget.
	StateNormal State = "NORMAL"
	// StateThrottled halves the budget each interval the load stays over
	// the ceiling.
	StateThrottled State = "THROTTLED"
	// StatePaused admits no new probes until the load cools down.
	StatePaused State = "PAUSED"
)

// Status is a point-in-time snapshot for the API and CLI.
type Status struct {
	State          State   `json:"state"`
	NormalizedLoad float64 `json:"normalized_load"`
	Ceiling        float64 `json:"ceiling"`
	PauseThreshold float64 `json:"pause_threshold"`
	CooldownFloor  float64 `json:"cooldown_floor"`
	Concurrency    int     `json:"concurrency"`
	MaxConcurrency int     `json:"max_concurrency"`
	Transitions    uint64  `json:"transitions"`
	SampleFailures uint64  `json:"sample_failures"`
}

// Governor samples load and adjusts the effective concurrency. Changes are
// pushed through the OnChange callback, typically wired to the scan gate.
type Governor struct {
	cfg     config.GovernorConfig
	sampler Sampler
	logger  *logging.Logger

	ceiling float64
	pause   float64
	floor   float64

	// OnChange receives the new effective concurrency after every
	// adjustment. Set before Run.
	OnChange func(state State, concurrency int)

	mu             sync.Mutex
	state          State
	maxConcurrency int
	concurrency    int
	lastLoad       float64
	haveSample     bool
	transitions    uint64
	sampleFailures uint64
}

// New builds a governor for the given power level and worker budget.
func New(cfg config.GovernorConfig, powerLevel, maxConcurrency int, sampler Sampler, logger *logging.Logger) *Governor {
	if sampler == nil {
		sampler = NewLoadAvgSampler()
	}
	if logger == nil {
		logger = logging.NewDefault().WithComponent("governor")
	}

	ceiling := cfg.BaseCeiling + cfg.CeilingSpan*float64(powerLevel)/100.0

	return &Governor{
		cfg:            cfg,
		sampler:        sampler,
		logger:         logger,
		ceiling:        ceiling,
		pause:          ceiling * cfg.PauseFactor,
		floor:          ceiling * cfg.CooldownRatio,
		state:          StateNormal,
		maxConcurrency: maxConcurrency,
		concurrency:    maxConcurrency,
	}
}

// Run samples on the configured interval until the context ends. One
// evaluation happens immediately so a scan started on a loaded machine
// throttles before the first tick.
func (g *Governor) Run(ctx context.Context) {
	g.tick()

	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Governor) tick() {
	load, err := g.sampler.Sample()

	g.mu.Lock()
	if err != nil {
		g.sampleFailures++
		if !g.haveSample {
			// nothing to act on yet; stay at full budget
			g.mu.Unlock()
			g.logger.Warn("Load sample failed, no previous sample", "error", err)
			return
		}
		// act on the last known load rather than flying blind
		load = g.lastLoad
	} else {
		g.lastLoad = load
		g.haveSample = true
	}

	prevState := g.state
	prevConc := g.concurrency
	g.evaluateLocked(load)
	state := g.state
	conc := g.concurrency
	changed := state != prevState || conc != prevConc
	g.mu.Unlock()

	metrics.SetGovernorState(string(state), load, conc)
	pm := metrics.GetGlobalMetrics()
	pm.SetGovernorLoad(load)
	pm.SetGovernorConcurrency(conc)
	pm.SetGovernorPaused(state == StatePaused)

	if changed {
		metrics.IncrementGovernorTransitions(string(prevState), string(state))
		if state != prevState {
			g.logger.WarnGovernor("Governor state change",
				"from", string(prevState), "to", string(state),
				"load", load, "ceiling", g.ceiling, "concurrency", conc)
		} else {
			g.logger.InfoGovernor("Concurrency adjusted",
				"load", load, "concurrency", conc)
		}
		if g.OnChange != nil {
			g.OnChange(state, conc)
		}
	}
}

// evaluateLocked applies one transition step for the sampled load.
func (g *Governor) evaluateLocked(load float64) {
	prev := g.state

	switch {
	case load >= g.pause:
		g.state = StatePaused
		g.concurrency = 0
	case load > g.ceiling:
		g.state = StateThrottled
		if prev == StatePaused {
			// leaving pause goes through throttle at quarter budget
			g.concurrency = g.maxConcurrency / 4
		} else {
			g.concurrency = g.concurrency / 2
		}
		if g.concurrency < 1 {
			g.concurrency = 1
		}
	case load < g.floor:
		g.state = StateNormal
		g.concurrency = g.maxConcurrency
	default:
		// between floor and ceiling: hold the current budget, except a
		// paused scan may resume throttled
		if prev == StatePaused {
			g.state = StateThrottled
			g.concurrency = g.maxConcurrency / 4
			if g.concurrency < 1 {
				g.concurrency = 1
			}
		}
	}

	if g.state != prev {
		g.transitions++
	}
}

// Snapshot returns the current governor status.
func (g *Governor) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		State:          g.state,
		NormalizedLoad: g.lastLoad,
		Ceiling:        g.ceiling,
		PauseThreshold: g.pause,
		CooldownFloor:  g.floor,
		Concurrency:    g.concurrency,
		MaxConcurrency: g.maxConcurrency,
		Transitions:    g.transitions,
		SampleFailures: g.sampleFailures,
	}
}

// Ceiling returns the normalized-load ceiling for the configured power.
func (g *Governor) Ceiling() float64 { return g.ceiling }

// SetMaxConcurrency updates the full worker budget, applied on the next
// evaluation.
func (g *Governor) SetMaxConcurrency(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxConcurrency = n
	if g.state == StateNormal {
		g.concurrency = n
	}
}
