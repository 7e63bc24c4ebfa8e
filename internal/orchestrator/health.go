package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
)

const (
	healthTimeout      = 30 * time.Second
	tailscaleInterface = "tailscale0"
)

// HealthChecker obtains a node's self-check report
type HealthChecker interface {
	Check(ctx context.Context, node types.Node) (types.HealthReport, error)
}

// RemoteHealth runs the healthcheck binary on a node and decodes its JSON
type RemoteHealth struct {
	exec    remote.Executor
	command string
	timeout time.Duration
}

// RemoteHealthCommand extends the configured self-check command with the
// cluster's health policy: required processes, the GPU requirement and the
// interfaces NCCL and tailscale depend on. It returns "" when remote health
// checks are disabled.
func RemoteHealthCommand(cfg *cluster.ClusterConfig) string {
	command := cfg.HealthCommand()
	if command == "" {
		return ""
	}

	args := []string{command}
	for _, name := range cfg.Health.RequiredProcesses {
		args = append(args, "--require-process", remote.ShellQuote(name))
	}
	if cfg.ExpectsGPU() {
		args = append(args, "--require-gpu")
	}
	for _, ifname := range watchedInterfaces(cfg) {
		args = append(args, "--watch-interface", remote.ShellQuote(ifname))
	}
	return strings.Join(args, " ")
}

func watchedInterfaces(cfg *cluster.ClusterConfig) []string {
	var out []string
	if cfg.NCCLEnabled() && cfg.NCCL.SocketIfname != "" {
		out = append(out, cfg.NCCL.SocketIfname)
	}
	if cfg.TailscaleEnabled() {
		out = append(out, tailscaleInterface)
	}
	return out
}

// NewRemoteHealth creates a checker running command through exec
func NewRemoteHealth(exec remote.Executor, command string) *RemoteHealth {
	return &RemoteHealth{exec: exec, command: command, timeout: healthTimeout}
}

// Check runs the self-check. The command exits non-zero for unhealthy hosts
// but still prints a report, so the exit status alone is not an error.
func (h *RemoteHealth) Check(ctx context.Context, node types.Node) (types.HealthReport, error) {
	res, err := h.exec.Run(ctx, node, h.command, h.timeout)
	if err != nil {
		return types.HealthReport{}, err
	}

	var report types.HealthReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &report); err != nil || report.Status == "" {
		if exitErr := res.Err(); exitErr != nil {
			return types.HealthReport{}, fmt.Errorf("health check failed: %w", exitErr)
		}
		return types.HealthReport{}, fmt.Errorf("health check printed no report")
	}
	if report.Hostname == "" {
		report.Hostname = node.Hostname
	}
	return report, nil
}
