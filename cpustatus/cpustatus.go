// Package cpustatus samples per-core CPU state percentages for the
// scalar-file "CPU[<i>]"/"totalCPU" rows (§4.4, §6.2). The assumed external
// interface from the core spec is expressed here as the Sampler interface,
// with a /proc/stat-based implementation on Linux and an all-Idle fallback
// everywhere else.
package cpustatus

// State names, matching the original CPUStatus::CpuStateNames ordering.
var StateNames = []string{"User", "Nice", "Sys", "Idle", "IOWait", "IRQ", "SoftIRQ", "Steal"}

// Sampler reports CPU utilization broken down by core and by state.
type Sampler interface {
	// Update takes a fresh snapshot of the underlying counters. Percentages
	// reported by Percentages/Utilization reflect the delta since the
	// previous Update call; the first Update establishes a baseline only.
	Update() error
	// NumCPUs returns the number of per-core rows available (cpuIndex 0 is
	// the aggregate "total" row; 1..NumCPUs are individual cores).
	NumCPUs() int
	// Percentages returns one percentage per StateNames entry for cpuIndex
	// (0 = aggregate), summing to ~100.
	Percentages(cpuIndex int) []float64
	// Utilization returns 100 minus the Idle percentage for cpuIndex.
	Utilization(cpuIndex int) float64
}

func utilizationFromPercentages(pct []float64) float64 {
	for i, name := range StateNames {
		if name == "Idle" && i < len(pct) {
			return 100 - pct[i]
		}
	}
	return 0
}
