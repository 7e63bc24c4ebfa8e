package cluster

import (
	"time"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// Duration wraps time.Duration so config files can use "5s" style strings
// in both YAML and JSON.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ClusterConfig is the declarative description of a cluster bring-up.
// Optional booleans are pointers so Merge can tell "unset" from "false".
type ClusterConfig struct {
	ClusterName       string           `json:"cluster_name" yaml:"cluster_name"`
	Nodes             []types.Node     `json:"nodes" yaml:"nodes"`
	SSHKeyPath        string           `json:"ssh_key_path,omitempty" yaml:"ssh_key_path,omitempty"`
	SSHPort           int              `json:"ssh_port,omitempty" yaml:"ssh_port,omitempty"`
	EnableTailscale   *bool            `json:"enable_tailscale,omitempty" yaml:"enable_tailscale,omitempty"`
	EnableNCCL        *bool            `json:"enable_nccl,omitempty" yaml:"enable_nccl,omitempty"`
	EnableMultiNode   *bool            `json:"enable_multi_node,omitempty" yaml:"enable_multi_node,omitempty"`
	TailscaleAuthKey  string           `json:"tailscale_auth_key,omitempty" yaml:"tailscale_auth_key,omitempty"`
	ConnectTimeout    Duration         `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	CommandTimeout    Duration         `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`
	MaxParallel       int              `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	ValidateOnFailure *bool            `json:"validate_on_failure,omitempty" yaml:"validate_on_failure,omitempty"`
	Validation        ValidationConfig `json:"validation,omitempty" yaml:"validation,omitempty"`
	Health            HealthConfig     `json:"health,omitempty" yaml:"health,omitempty"`
	NCCL              NCCLConfig       `json:"nccl,omitempty" yaml:"nccl,omitempty"`

	// Extensions is an opaque bag for site-specific settings. sparkmesh
	// carries it through merges but never interprets it.
	Extensions map[string]any `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// ValidationConfig tunes the network/GPU validator during the validate phase
type ValidationConfig struct {
	Tests             []types.TestKind `json:"tests,omitempty" yaml:"tests,omitempty"`
	PingCount         int              `json:"ping_count,omitempty" yaml:"ping_count,omitempty"`
	BandwidthDuration Duration         `json:"bandwidth_duration,omitempty" yaml:"bandwidth_duration,omitempty"`
	BandwidthPort     int              `json:"bandwidth_port,omitempty" yaml:"bandwidth_port,omitempty"`
	ExpectGPU         *bool            `json:"expect_gpu,omitempty" yaml:"expect_gpu,omitempty"`
}

// HealthConfig describes the remote self-check run on every node
type HealthConfig struct {
	// Command is executed on each node and must print a JSON health report.
	// An explicit empty string disables remote health checks.
	Command           *string  `json:"command,omitempty" yaml:"command,omitempty"`
	RequiredProcesses []string `json:"required_processes,omitempty" yaml:"required_processes,omitempty"`
}

// NCCLConfig holds the environment written to /etc/nccl.conf
type NCCLConfig struct {
	SocketIfname string `json:"socket_ifname,omitempty" yaml:"socket_ifname,omitempty"`
	IBDisable    *bool  `json:"ib_disable,omitempty" yaml:"ib_disable,omitempty"`
	Debug        string `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// TailscaleEnabled reports whether the overlay network phase should run
func (c *ClusterConfig) TailscaleEnabled() bool {
	return boolValue(c.EnableTailscale, defaultEnableTailscale)
}

// NCCLEnabled reports whether the interconnect phase should run
func (c *ClusterConfig) NCCLEnabled() bool {
	return boolValue(c.EnableNCCL, defaultEnableNCCL)
}

// MultiNodeEnabled reports whether the multi-node wiring phase should run
func (c *ClusterConfig) MultiNodeEnabled() bool {
	return boolValue(c.EnableMultiNode, defaultEnableMultiNode)
}

// ValidatesOnFailure reports whether validate runs after a failed phase
func (c *ClusterConfig) ValidatesOnFailure() bool {
	return boolValue(c.ValidateOnFailure, defaultValidateOnFailure)
}

// ExpectsGPU reports whether the gpu test requires at least one device
func (c *ClusterConfig) ExpectsGPU() bool {
	return boolValue(c.Validation.ExpectGPU, false)
}

// HealthCommand returns the remote self-check command, or "" when disabled
func (c *ClusterConfig) HealthCommand() string {
	if c.Health.Command == nil {
		return defaultHealthCommand
	}
	return *c.Health.Command
}

// PhaseEnabled reports whether a phase is part of a full deploy
func (c *ClusterConfig) PhaseEnabled(p types.Phase) bool {
	switch p {
	case types.PhaseTailscale:
		return c.TailscaleEnabled()
	case types.PhaseNCCL:
		return c.NCCLEnabled()
	case types.PhaseMultiNode:
		return c.MultiNodeEnabled()
	default:
		return true
	}
}

// Primary returns the coordinating node
func (c *ClusterConfig) Primary() (types.Node, bool) {
	for _, n := range c.Nodes {
		if n.IsPrimary() {
			return n, true
		}
	}
	if len(c.Nodes) > 0 {
		return c.Nodes[0], true
	}
	return types.Node{}, false
}

// Node looks up a member by hostname
func (c *ClusterConfig) Node(hostname string) (types.Node, bool) {
	for _, n := range c.Nodes {
		if n.Hostname == hostname {
			return n, true
		}
	}
	return types.Node{}, false
}

// Bool returns a pointer to v, for building configs in code
func Bool(v bool) *bool {
	return &v
}

// String returns a pointer to v, for building configs in code
func String(v string) *string {
	return &v
}

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
