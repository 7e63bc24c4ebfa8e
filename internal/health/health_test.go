package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/types"
)

type stubSampler struct {
	metrics types.SystemMetrics
	err     error
}

func (s stubSampler) Sample(ctx context.Context, window time.Duration) (types.SystemMetrics, error) {
	return s.metrics, s.err
}

func (s stubSampler) Uptime() (time.Duration, error) {
	return time.Hour, nil
}

type stubGPU struct {
	info *types.GPUInfo
	err  error
}

func (s stubGPU) Query() (*types.GPUInfo, error) {
	return s.info, s.err
}

type stubProcesses map[string]int

func (s stubProcesses) Running() (map[string]int, error) {
	return s, nil
}

type brokenProcesses struct{}

func (brokenProcesses) Running() (map[string]int, error) {
	return nil, errors.New("permission denied")
}

type stubInterfaces []types.NetInterface

func (s stubInterfaces) Interfaces() ([]types.NetInterface, error) {
	return s, nil
}

func newTestAggregator(t *testing.T, opts Options, sys types.SystemMetrics, gpu GPUSource, procs ProcessLister) *Aggregator {
	opts.Hostname = "spark-01"
	return NewAggregator(opts, stubSampler{metrics: sys}, gpu, procs, nil, zaptest.NewLogger(t))
}

func TestSelfCheck_Healthy(t *testing.T) {
	agg := newTestAggregator(t, Options{RequiredProcesses: []string{"sshd"}},
		types.SystemMetrics{CPUPercent: 10, MemoryPercent: 20},
		stubGPU{}, stubProcesses{"sshd": 1})

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.Equal(t, "spark-01", report.Hostname)
	assert.Equal(t, 3600.0, report.UptimeSeconds)
	assert.Equal(t, map[string]bool{"sshd": true}, report.Processes)
	assert.Nil(t, report.GPU)
	assert.False(t, report.Timestamp.IsZero())
}

func TestSelfCheck_WatchedInterfaces(t *testing.T) {
	ifaces := stubInterfaces{
		{Name: "enp1s0f0np0", State: "down", MTU: 9000},
		{Name: "eth0", State: "up", Up: true, MTU: 1500, SpeedMbps: 10000, RxBytes: 42},
	}
	agg := NewAggregator(Options{Hostname: "spark-01", WatchInterfaces: []string{"enp1s0f0np0", "eth0", "tailscale0"}},
		stubSampler{metrics: types.SystemMetrics{CPUPercent: 5}}, nil, stubProcesses{}, ifaces, zaptest.NewLogger(t))

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthHealthy, report.Status)
	require.Len(t, report.Interfaces, 2)
	assert.Equal(t, uint64(42), report.Interfaces[1].RxBytes)
	assert.Equal(t, []string{"interface enp1s0f0np0 is down", "interface tailscale0 not found"}, report.Warnings)
}

func TestSysfsInterfaces(t *testing.T) {
	lister, err := NewSysfsInterfaces()
	if err != nil {
		t.Skipf("sysfs unavailable: %v", err)
	}
	ifaces, err := lister.Interfaces()
	if err != nil {
		t.Skipf("no /sys/class/net: %v", err)
	}
	for _, ni := range ifaces {
		assert.NotEqual(t, "lo", ni.Name)
		assert.NotEmpty(t, ni.State)
	}
}

func TestSelfCheck_HighCPUIsDegraded(t *testing.T) {
	agg := newTestAggregator(t, Options{},
		types.SystemMetrics{CPUPercent: 95, MemoryPercent: 40},
		stubGPU{}, stubProcesses{})

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthDegraded, report.Status)
	assert.Contains(t, report.Warnings, "high CPU usage: 95.0%")
}

func TestSelfCheck_MissingProcessOverridesDegraded(t *testing.T) {
	agg := newTestAggregator(t, Options{RequiredProcesses: []string{"sshd", "dockerd"}},
		types.SystemMetrics{CPUPercent: 95},
		stubGPU{}, stubProcesses{"sshd": 2})

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthUnhealthy, report.Status)
	assert.False(t, report.Processes["dockerd"])
}

func TestSelfCheck_RequiredGPUMissing(t *testing.T) {
	agg := newTestAggregator(t, Options{RequireGPU: true},
		types.SystemMetrics{}, stubGPU{}, stubProcesses{})

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthUnhealthy, report.Status)
	assert.Contains(t, report.Warnings, "required GPU is unavailable")
}

func TestSelfCheck_GPUPresent(t *testing.T) {
	info := &types.GPUInfo{Available: true, Count: 1, Devices: []types.GPUDevice{{Name: "GB10"}}}
	agg := newTestAggregator(t, Options{RequireGPU: true},
		types.SystemMetrics{}, stubGPU{info: info}, stubProcesses{})

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthHealthy, report.Status)
	require.NotNil(t, report.GPU)
	assert.Equal(t, 1, report.GPU.Count)
}

func TestSelfCheck_SamplerFailureIsWarning(t *testing.T) {
	agg := NewAggregator(Options{Hostname: "a"}, stubSampler{err: errors.New("no /proc")}, nil, stubProcesses{}, nil, zaptest.NewLogger(t))

	report := agg.SelfCheck(context.Background())
	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.Contains(t, report.Warnings[0], "system metrics unavailable")
}

func TestCheckProcesses_NeverFails(t *testing.T) {
	agg := newTestAggregator(t, Options{}, types.SystemMetrics{}, nil, brokenProcesses{})

	out := agg.CheckProcesses([]string{"sshd"})
	assert.Equal(t, map[string]bool{"sshd": false}, out)
}

func TestDeriveStatus_DiskOnlyWarns(t *testing.T) {
	status, warnings := DeriveStatus(types.SystemMetrics{DiskPercent: 97}, nil, nil, false)
	assert.Equal(t, types.HealthHealthy, status)
	assert.Equal(t, []string{"high disk usage: 97.0%"}, warnings)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 200, StatusCode(types.HealthHealthy))
	assert.Equal(t, 200, StatusCode(types.HealthDegraded))
	assert.Equal(t, 503, StatusCode(types.HealthUnhealthy))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	agg := newTestAggregator(t, Options{RequiredProcesses: []string{"sshd"}},
		types.SystemMetrics{}, nil, stubProcesses{})
	router := NewRouter(NewHandler(agg, metrics.NewRecorder(reg), zaptest.NewLogger(t)), reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report types.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, types.HealthUnhealthy, report.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sparkmesh_health_status{hostname="spark-01",status="unhealthy"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestServiceChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	port := serverPort(t, srv)
	checker := NewServiceChecker("127.0.0.1", time.Second)
	ctx := context.Background()

	assert.True(t, checker.CheckService(ctx, port, "ready"))
	assert.False(t, checker.CheckService(ctx, port, "/missing"))
	assert.True(t, checker.CheckPort(ctx, port))
}

func TestServiceChecker_ClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	checker := NewServiceChecker("127.0.0.1", 200*time.Millisecond)
	assert.False(t, checker.CheckPort(context.Background(), port))
}

func TestCPUPercent(t *testing.T) {
	before := procfs.CPUStat{User: 10, System: 5, Idle: 85}
	after := procfs.CPUStat{User: 25, System: 10, Idle: 165}
	assert.Equal(t, 20.0, cpuPercent(before, after))
	assert.Equal(t, 0.0, cpuPercent(after, after))
}

func TestMemoryPercent(t *testing.T) {
	total, avail := uint64(1000), uint64(250)
	assert.Equal(t, 75.0, memoryPercent(procfs.Meminfo{MemTotal: &total, MemAvailable: &avail}))
	assert.Equal(t, 0.0, memoryPercent(procfs.Meminfo{}))
}
