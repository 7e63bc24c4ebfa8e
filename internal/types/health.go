package types

import "time"

// HealthStatus is the overall verdict of a self-check
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Serving reports whether the host should still accept work
func (s HealthStatus) Serving() bool {
	return s == HealthHealthy || s == HealthDegraded
}

// SystemMetrics holds host resource usage
type SystemMetrics struct {
	CPUPercent    float64    `json:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent"`
	DiskPercent   float64    `json:"disk_percent"`
	LoadAverage   [3]float64 `json:"load_average"`
}

// GPUDevice describes one accelerator
type GPUDevice struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	UUID           string  `json:"uuid,omitempty"`
	MemoryUsedMiB  uint64  `json:"memory_used_mib"`
	MemoryTotalMiB uint64  `json:"memory_total_mib"`
	Utilization    uint32  `json:"utilization_percent"`
	TemperatureC   uint32  `json:"temperature_c"`
	PowerWatts     float64 `json:"power_watts,omitempty"`
}

// GPUInfo is the accelerator inventory of a host
type GPUInfo struct {
	Available     bool        `json:"available"`
	Count         int         `json:"count"`
	DriverVersion string      `json:"driver_version,omitempty"`
	Devices       []GPUDevice `json:"devices,omitempty"`
}

// NetInterface is the link state of one network interface
type NetInterface struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Up        bool   `json:"up"`
	MTU       int    `json:"mtu,omitempty"`
	SpeedMbps int    `json:"speed_mbps,omitempty"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
}

// HealthReport is produced fresh on every self-check
type HealthReport struct {
	Status        HealthStatus    `json:"status"`
	Hostname      string          `json:"hostname"`
	Timestamp     time.Time       `json:"timestamp"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	System        SystemMetrics   `json:"system"`
	GPU           *GPUInfo        `json:"gpu,omitempty"`
	Processes     map[string]bool `json:"processes,omitempty"`
	Interfaces    []NetInterface  `json:"interfaces,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}
