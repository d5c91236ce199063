// Package cpuspec picks inference thread counts from the host CPU topology.
package cpuspec

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName     string
	PhysicalCores int
	LogicalCores  int
	Hybrid        bool
}

// GetCPUSpec reads the CPU specification detected by cpuid.
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:     cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Hybrid:        cpuid.CPU.Supports(cpuid.HYBRID_CPU),
	}
}

// GetOptimalThreadCount returns the recommended intra-op thread count for the
// detector and CRNN sessions: physical cores, capped by what the process may use.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()

	threads := c.PhysicalCores
	if threads <= 0 {
		threads = c.LogicalCores
	}
	if threads <= 0 || threads > available {
		threads = available
	}
	return max(threads, 1)
}

// SessionPoolSize returns how many detector sessions to keep warm. Each session
// gets GetOptimalThreadCount threads, so more than a couple oversubscribes the CPU.
func (c CPUSpec) SessionPoolSize() int {
	if c.LogicalCores >= 8 {
		return 2
	}
	return 1
}
