package governor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/config"
)

func testCfg() config.GovernorConfig {
	return config.GovernorConfig{
		SampleInterval: 50 * time.Millisecond,
		BaseCeiling:    0.15,
		CeilingSpan:    0.85,
		PauseFactor:    1.5,
		CooldownRatio:  0.6,
	}
}

// fakeSampler replays a load sequence, holding the last value.
type fakeSampler struct {
	loads []float64
	errs  []error
	pos   int
}

func (f *fakeSampler) Sample() (float64, error) {
	i := f.pos
	if i >= len(f.loads) {
		i = len(f.loads) - 1
	}
	f.pos++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.loads[i], err
}

func TestCeilingDerivation(t *testing.T) {
	tests := []struct {
		power       int
		wantCeiling float64
	}{
		{10, 0.235},
		{30, 0.405},
		{50, 0.575},
		{100, 1.0},
	}
	for _, tt := range tests {
		g := New(testCfg(), tt.power, 300, &StaticSampler{}, nil)
		assert.InDelta(t, tt.wantCeiling, g.Ceiling(), 1e-9, "power %d", tt.power)
	}
}

func TestHighLoadLowPowerPausesImmediately(t *testing.T) {
	// a nearly saturated machine at low power must pause on the first
	// sample: ceiling 0.405, pause threshold 0.6075, load 0.95
	g := New(testCfg(), 30, 300, &StaticSampler{Load: 0.95}, nil)
	g.tick()

	st := g.Snapshot()
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, 0, st.Concurrency)
}

func TestThrottleHalvesEachInterval(t *testing.T) {
	// power 100: ceiling 1.0; load 1.2 sits between ceiling and pause
	s := &fakeSampler{loads: []float64{1.2}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	assert.Equal(t, StateThrottled, g.Snapshot().State)
	assert.Equal(t, 200, g.Snapshot().Concurrency)

	g.tick()
	assert.Equal(t, 100, g.Snapshot().Concurrency)

	for i := 0; i < 12; i++ {
		g.tick()
	}
	// never drops below one worker while throttled
	assert.Equal(t, 1, g.Snapshot().Concurrency)
}

func TestHysteresisHoldsBetweenFloorAndCeiling(t *testing.T) {
	// throttle at 1.2, then hover at 0.8: above the 0.6 floor, so the
	// reduced budget must hold instead of bouncing back
	s := &fakeSampler{loads: []float64{1.2, 0.8, 0.8}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	require.Equal(t, 200, g.Snapshot().Concurrency)
	g.tick()
	assert.Equal(t, StateThrottled, g.Snapshot().State)
	assert.Equal(t, 200, g.Snapshot().Concurrency)
	g.tick()
	assert.Equal(t, 200, g.Snapshot().Concurrency)
}

func TestRecoveryBelowFloorRestoresFullBudget(t *testing.T) {
	s := &fakeSampler{loads: []float64{1.2, 1.2, 0.5}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	g.tick()
	require.Equal(t, 100, g.Snapshot().Concurrency)

	g.tick()
	st := g.Snapshot()
	assert.Equal(t, StateNormal, st.State)
	assert.Equal(t, 400, st.Concurrency)
}

func TestPauseResumesThroughThrottle(t *testing.T) {
	// pause at 2.0, then cool to 0.8 (over the floor): resume at quarter
	// budget instead of jumping straight back to full
	s := &fakeSampler{loads: []float64{2.0, 0.8}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	require.Equal(t, StatePaused, g.Snapshot().State)

	g.tick()
	st := g.Snapshot()
	assert.Equal(t, StateThrottled, st.State)
	assert.Equal(t, 100, st.Concurrency)
}

func TestSampleFailureUsesLastKnownLoad(t *testing.T) {
	s := &fakeSampler{
		loads: []float64{2.0, 0},
		errs:  []error{nil, os.ErrPermission},
	}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	require.Equal(t, StatePaused, g.Snapshot().State)

	// failed sample keeps acting on the stored 2.0, staying paused
	g.tick()
	st := g.Snapshot()
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, uint64(1), st.SampleFailures)
}

func TestSampleFailureBeforeFirstSampleStaysNormal(t *testing.T) {
	s := &fakeSampler{loads: []float64{0}, errs: []error{os.ErrPermission}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	st := g.Snapshot()
	assert.Equal(t, StateNormal, st.State)
	assert.Equal(t, 400, st.Concurrency)
}

func TestOnChangeCallback(t *testing.T) {
	s := &fakeSampler{loads: []float64{0.2, 2.0, 0.2}}
	g := New(testCfg(), 100, 400, s, nil)

	var events []int
	g.OnChange = func(_ State, conc int) {
		events = append(events, conc)
	}

	g.tick() // normal, no change
	g.tick() // paused
	g.tick() // recovered
	assert.Equal(t, []int{0, 400}, events)
}

func TestTransitionCounter(t *testing.T) {
	s := &fakeSampler{loads: []float64{2.0, 0.2, 2.0}}
	g := New(testCfg(), 100, 400, s, nil)

	g.tick()
	g.tick()
	g.tick()
	assert.Equal(t, uint64(3), g.Snapshot().Transitions)
}

func TestLoadAvgSampler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loadavg")
	require.NoError(t, os.WriteFile(path, []byte("3.20 2.80 2.40 2/512 12345\n"), 0o644))

	s := &LoadAvgSampler{path: path, cpus: 4}
	load, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.80, load, 1e-9)
}

func TestLoadAvgSamplerErrors(t *testing.T) {
	s := &LoadAvgSampler{path: filepath.Join(t.TempDir(), "missing"), cpus: 4}
	_, err := s.Sample()
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "loadavg")
	require.NoError(t, os.WriteFile(path, []byte("garbage here\n"), 0o644))
	s = &LoadAvgSampler{path: path, cpus: 4}
	_, err = s.Sample()
	assert.Error(t, err)
}
