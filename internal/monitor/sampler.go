package monitor

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ShayCichocki/herd/pkg/models"
)

// Sampler takes a point-in-time resource sample for a process.
// The interface allows substituting a fake in tests.
type Sampler interface {
	Sample(pid int) (*models.ResourceUsage, error)
}

// PSSampler samples live processes through gopsutil.
type PSSampler struct{}

// NewPSSampler creates a PSSampler.
func NewPSSampler() *PSSampler {
	return &PSSampler{}
}

// Sample reads CPU, memory, I/O, file handle, and thread metrics for
// the given pid. Individual metric failures are tolerated; only a
// missing process is an error.
func (s *PSSampler) Sample(pid int) (*models.ResourceUsage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}

	usage := &models.ResourceUsage{SampledAt: time.Now()}

	if cpu, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		usage.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if io, err := p.IOCounters(); err == nil && io != nil {
		usage.DiskReadBytes = io.ReadBytes
		usage.DiskWriteBytes = io.WriteBytes
	}
	// Network counters stay zero: the OS does not attribute network
	// traffic to individual processes, so there is nothing to read.
	if fds, err := p.NumFDs(); err == nil {
		usage.OpenFiles = fds
	}
	if threads, err := p.NumThreads(); err == nil {
		usage.Threads = threads
	}

	return usage, nil
}

// Verify PSSampler implements Sampler at compile time.
var _ Sampler = (*PSSampler)(nil)
