package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// ProcfsSampler reads host metrics from /proc and statfs
type ProcfsSampler struct {
	fs       procfs.FS
	diskPath string
	now      func() time.Time
}

var _ SystemSampler = (*ProcfsSampler)(nil)

// NewProcfsSampler opens procfs at its default mount point
func NewProcfsSampler(diskPath string) (*ProcfsSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &ProcfsSampler{fs: fs, diskPath: diskPath, now: time.Now}, nil
}

// Sample measures CPU over window plus memory, disk and load
func (s *ProcfsSampler) Sample(ctx context.Context, window time.Duration) (types.SystemMetrics, error) {
	var m types.SystemMetrics

	before, err := s.fs.Stat()
	if err != nil {
		return m, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	if window > 0 {
		select {
		case <-ctx.Done():
			return m, ctx.Err()
		case <-time.After(window):
		}
	}
	after, err := s.fs.Stat()
	if err != nil {
		return m, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	m.CPUPercent = cpuPercent(before.CPUTotal, after.CPUTotal)

	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return m, fmt.Errorf("failed to read meminfo: %w", err)
	}
	m.MemoryPercent = memoryPercent(meminfo)

	if load, err := s.fs.LoadAvg(); err == nil {
		m.LoadAverage = [3]float64{load.Load1, load.Load5, load.Load15}
	}

	disk, err := diskPercent(s.diskPath)
	if err != nil {
		return m, err
	}
	m.DiskPercent = disk

	return m, nil
}

// Uptime returns time since boot
func (s *ProcfsSampler) Uptime() (time.Duration, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read boot time: %w", err)
	}
	boot := time.Unix(int64(stat.BootTime), 0)
	return s.now().Sub(boot), nil
}

func cpuPercent(before, after procfs.CPUStat) float64 {
	busy := func(c procfs.CPUStat) float64 {
		return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	}
	total := func(c procfs.CPUStat) float64 {
		return busy(c) + c.Idle + c.Iowait
	}

	dt := total(after) - total(before)
	if dt <= 0 {
		return 0
	}
	return round1(100 * (busy(after) - busy(before)) / dt)
}

func memoryPercent(mi procfs.Meminfo) float64 {
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0
	}
	total := float64(*mi.MemTotal)
	var available float64
	switch {
	case mi.MemAvailable != nil:
		available = float64(*mi.MemAvailable)
	case mi.MemFree != nil:
		available = float64(*mi.MemFree)
	}
	return round1(100 * (total - available) / total)
}

func diskPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	used := (st.Blocks - st.Bfree) * bsize
	avail := st.Bavail * bsize
	if used+avail == 0 {
		return 0, nil
	}
	return round1(100 * float64(used) / float64(used+avail)), nil
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
