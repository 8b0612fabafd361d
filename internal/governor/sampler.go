package governor

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// Sampler reports the normalized one-minute load average: raw loadavg
// divided by CPU count, so 1.0 means every core is busy.
type Sampler interface {
	Sample() (float64, error)
}

const procLoadAvg = "/proc/loadavg"

// LoadAvgSampler reads /proc/loadavg.
type LoadAvgSampler struct {
	path string
	cpus int
}

// NewLoadAvgSampler returns the default system sampler.
func NewLoadAvgSampler() *LoadAvgSampler {
	return &LoadAvgSampler{path: procLoadAvg, cpus: runtime.NumCPU()}
}

// Sample reads and normalizes the one-minute load average.
func (s *LoadAvgSampler) Sample() (float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, errors.WrapProbeError(errors.CodeGovernorSample, "failed to read loadavg", s.path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.NewProbeError(errors.CodeGovernorSample, "empty loadavg", s.path)
	}

	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, errors.WrapProbeError(errors.CodeGovernorSample, "malformed loadavg", s.path, err)
	}

	cpus := s.cpus
	if cpus < 1 {
		cpus = 1
	}
	return load / float64(cpus), nil
}

// StaticSampler returns a fixed value; used when driving the governor by
// hand and in tests.
type StaticSampler struct {
	Load float64
	Err  error
}

// Sample returns the configured value.
func (s *StaticSampler) Sample() (float64, error) {
	return s.Load, s.Err
}
