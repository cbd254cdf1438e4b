package monitor

import (
	"os"
	"testing"
)

func TestPSSamplerSamplesSelf(t *testing.T) {
	s := NewPSSampler()

	usage, err := s.Sample(os.Getpid())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if usage.MemoryMB <= 0 {
		t.Errorf("MemoryMB = %v, want positive", usage.MemoryMB)
	}
	if usage.Threads < 1 {
		t.Errorf("Threads = %d, want at least 1", usage.Threads)
	}
	if usage.SampledAt.IsZero() {
		t.Error("SampledAt not set")
	}
}

func TestPSSamplerMissingProcess(t *testing.T) {
	if _, err := NewPSSampler().Sample(1 << 30); err == nil {
		t.Error("Sample of nonexistent pid succeeded, want error")
	}
}
