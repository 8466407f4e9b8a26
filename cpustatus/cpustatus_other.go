//go:build !linux

package cpustatus

import "runtime"

// fallbackSampler reports runtime.NumCPU() cores plus the aggregate row, every
// one with all time in Idle, since no portable per-state jiffie source exists
// off Linux.
type fallbackSampler struct{}

// NewLinuxSampler is unavailable on this platform; NewFallbackSampler is used
// instead by callers that probe GOOS themselves.
func NewFallbackSampler() Sampler {
	return fallbackSampler{}
}

// New returns the platform's best available Sampler.
func New() (Sampler, error) {
	return NewFallbackSampler(), nil
}

func (fallbackSampler) Update() error { return nil }

func (fallbackSampler) NumCPUs() int { return runtime.NumCPU() }

func (fallbackSampler) Percentages(cpuIndex int) []float64 {
	pct := make([]float64, len(StateNames))
	for i, name := range StateNames {
		if name == "Idle" {
			pct[i] = 100
		}
	}
	return pct
}

func (fallbackSampler) Utilization(cpuIndex int) float64 {
	return 0
}
