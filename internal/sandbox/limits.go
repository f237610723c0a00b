package sandbox

import (
	"fmt"
)

// Limits bounds the resources of the interpreter container. The interpreter
// lives for the whole session, so these apply to every run it serves.
type Limits struct {
	CPUShares int64 `yaml:"cpu_shares"` // 1024 = 1 CPU core
	MemoryMB  int64 `yaml:"memory_mb"`
	PidsLimit int64 `yaml:"pids_limit"`
	DiskMB    int64 `yaml:"disk_mb"` // tmpfs size for /tmp
}

func DefaultLimits() Limits {
	return Limits{
		CPUShares: 512, // 0.5 CPU
		MemoryMB:  256,
		PidsLimit: 32,
		DiskMB:    64,
	}
}

func (l Limits) Validate() error {
	if l.CPUShares < 2 || l.CPUShares > 8192 {
		return fmt.Errorf("%w: cpu_shares must be 2-8192, got %d", ErrInvalidLimits, l.CPUShares)
	}
	if l.MemoryMB < 32 || l.MemoryMB > 8192 {
		return fmt.Errorf("%w: memory_mb must be 32-8192, got %d", ErrInvalidLimits, l.MemoryMB)
	}
	if l.PidsLimit < 4 || l.PidsLimit > 1000 {
		return fmt.Errorf("%w: pids_limit must be 4-1000, got %d", ErrInvalidLimits, l.PidsLimit)
	}
	if l.DiskMB < 1 || l.DiskMB > 4096 {
		return fmt.Errorf("%w: disk_mb must be 1-4096, got %d", ErrInvalidLimits, l.DiskMB)
	}
	return nil
}

// cpus converts shares to the fractional CPU count docker expects.
func (l Limits) cpus() string {
	return fmt.Sprintf("%.2f", float64(l.CPUShares)/1024.0)
}
