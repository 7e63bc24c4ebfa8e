package health

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// Thresholds above which a host is reported degraded
const (
	CPUDegradedPercent    = 90.0
	MemoryDegradedPercent = 90.0
	DiskWarningPercent    = 90.0
)

// SystemSampler measures host resource usage. Sample blocks for window to
// compute CPU utilisation from two readings.
type SystemSampler interface {
	Sample(ctx context.Context, window time.Duration) (types.SystemMetrics, error)
	Uptime() (time.Duration, error)
}

// GPUSource reports local accelerators. It returns nil info when no GPU
// runtime is present on the host.
type GPUSource interface {
	Query() (*types.GPUInfo, error)
}

// ProcessLister returns the command names of running processes
type ProcessLister interface {
	Running() (map[string]int, error)
}

// Options configures an Aggregator
type Options struct {
	SampleWindow      time.Duration
	RequireGPU        bool
	RequiredProcesses []string
	WatchInterfaces   []string
	Hostname          string
}

// Aggregator combines system, GPU, process and interface readings into a
// HealthReport. A watched interface that is down only adds a warning.
type Aggregator struct {
	opts       Options
	sampler    SystemSampler
	gpu        GPUSource
	processes  ProcessLister
	interfaces InterfaceLister
	logger     *zap.Logger
	now        func() time.Time
}

// NewAggregator creates an aggregator over the given sources
func NewAggregator(opts Options, sampler SystemSampler, gpu GPUSource, processes ProcessLister, interfaces InterfaceLister, logger *zap.Logger) *Aggregator {
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	return &Aggregator{
		opts:       opts,
		sampler:    sampler,
		gpu:        gpu,
		processes:  processes,
		interfaces: interfaces,
		logger:     logger.Named("health"),
		now:        time.Now,
	}
}

// SelfCheck samples the host and derives its status. Failed readings become
// warnings; the report itself is always produced.
func (a *Aggregator) SelfCheck(ctx context.Context) types.HealthReport {
	report := types.HealthReport{
		Hostname: a.opts.Hostname,
	}

	system, err := a.sampler.Sample(ctx, a.opts.SampleWindow)
	if err != nil {
		a.logger.Warn("system sampling failed", zap.Error(err))
		report.Warnings = append(report.Warnings, fmt.Sprintf("system metrics unavailable: %v", err))
	}
	report.System = system

	if uptime, err := a.sampler.Uptime(); err == nil {
		report.UptimeSeconds = uptime.Seconds()
	}

	gpu, err := a.CheckGPU()
	if err != nil {
		a.logger.Warn("gpu query failed", zap.Error(err))
		report.Warnings = append(report.Warnings, fmt.Sprintf("gpu query failed: %v", err))
	}
	report.GPU = gpu

	if len(a.opts.RequiredProcesses) > 0 {
		report.Processes = a.CheckProcesses(a.opts.RequiredProcesses)
	}

	if a.interfaces != nil {
		interfaces, err := a.interfaces.Interfaces()
		if err != nil {
			a.logger.Warn("interface listing failed", zap.Error(err))
			report.Warnings = append(report.Warnings, fmt.Sprintf("network interfaces unavailable: %v", err))
		} else {
			report.Interfaces = interfaces
			report.Warnings = append(report.Warnings, interfaceWarnings(interfaces, a.opts.WatchInterfaces)...)
		}
	}

	status, warnings := DeriveStatus(report.System, report.GPU, report.Processes, a.opts.RequireGPU)
	report.Status = status
	report.Warnings = append(report.Warnings, warnings...)
	report.Timestamp = a.now().UTC()

	a.logger.Debug("self-check complete",
		zap.String("status", string(status)),
		zap.Float64("cpu", system.CPUPercent),
		zap.Float64("memory", system.MemoryPercent))
	return report
}

// CheckGPU returns accelerator details, or nil when no GPU runtime exists
func (a *Aggregator) CheckGPU() (*types.GPUInfo, error) {
	if a.gpu == nil {
		return nil, nil
	}
	return a.gpu.Query()
}

// CheckProcesses reports which of the named processes are running. It never
// fails; an unreadable process table reports every name as absent.
func (a *Aggregator) CheckProcesses(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	running, err := a.processes.Running()
	if err != nil {
		a.logger.Warn("process listing failed", zap.Error(err))
	}
	for _, name := range names {
		out[name] = running[name] > 0
	}
	return out
}

// DeriveStatus applies the health rule in order: a missing required process
// or a missing required GPU is unhealthy; CPU or memory above threshold is
// degraded; anything else is healthy. Disk pressure only adds a warning.
func DeriveStatus(system types.SystemMetrics, gpu *types.GPUInfo, processes map[string]bool, requireGPU bool) (types.HealthStatus, []string) {
	var warnings []string
	unhealthy := false

	missing := make([]string, 0)
	for name, ok := range processes {
		if !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		warnings = append(warnings, fmt.Sprintf("required process %s is not running", name))
		unhealthy = true
	}

	if requireGPU && (gpu == nil || !gpu.Available || gpu.Count == 0) {
		warnings = append(warnings, "required GPU is unavailable")
		unhealthy = true
	}

	degraded := false
	if system.CPUPercent > CPUDegradedPercent {
		warnings = append(warnings, fmt.Sprintf("high CPU usage: %.1f%%", system.CPUPercent))
		degraded = true
	}
	if system.MemoryPercent > MemoryDegradedPercent {
		warnings = append(warnings, fmt.Sprintf("high memory usage: %.1f%%", system.MemoryPercent))
		degraded = true
	}
	if system.DiskPercent > DiskWarningPercent {
		warnings = append(warnings, fmt.Sprintf("high disk usage: %.1f%%", system.DiskPercent))
	}

	switch {
	case unhealthy:
		return types.HealthUnhealthy, warnings
	case degraded:
		return types.HealthDegraded, warnings
	default:
		return types.HealthHealthy, warnings
	}
}

// StatusCode maps a health status to the HTTP status served for it
func StatusCode(status types.HealthStatus) int {
	if status.Serving() {
		return 200
	}
	return 503
}
