package cluster

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/williamhogman/sparkmesh/internal/types"
)

const (
	defaultSSHKeyPath        = "~/.ssh/dgx_key"
	DefaultSSHPort           = 22
	defaultConnectTimeout    = 5 * time.Second
	defaultCommandTimeout    = 10 * time.Minute
	defaultMaxParallel       = 8
	DefaultPingCount         = 5
	DefaultBandwidthDuration = 5 * time.Second
	DefaultBandwidthPort     = 5201
	defaultHealthCommand     = "healthcheck --self-check --json"
	defaultNCCLDebug         = "INFO"

	defaultEnableTailscale   = false
	defaultEnableNCCL        = true
	defaultEnableMultiNode   = false
	defaultValidateOnFailure = true
)

// ApplyDefaults returns a copy of cfg with every unset field filled in.
// The input is not modified.
func ApplyDefaults(cfg ClusterConfig, env EnvOverrides) ClusterConfig {
	out := cfg.Clone()

	if out.SSHKeyPath == "" {
		out.SSHKeyPath = defaultSSHKeyPath
	}
	out.SSHKeyPath = expandHome(out.SSHKeyPath, env.Home)
	if out.SSHPort == 0 {
		out.SSHPort = DefaultSSHPort
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = Duration(defaultConnectTimeout)
	}
	if out.CommandTimeout == 0 {
		out.CommandTimeout = Duration(defaultCommandTimeout)
	}
	if out.MaxParallel == 0 {
		out.MaxParallel = defaultMaxParallel
	}
	out.EnableTailscale = Bool(out.TailscaleEnabled())
	out.EnableNCCL = Bool(out.NCCLEnabled())
	out.EnableMultiNode = Bool(out.MultiNodeEnabled())
	out.ValidateOnFailure = Bool(out.ValidatesOnFailure())

	if len(out.Validation.Tests) == 0 {
		out.Validation.Tests = append([]types.TestKind(nil), types.AllTests...)
	}
	if out.Validation.PingCount == 0 {
		out.Validation.PingCount = DefaultPingCount
	}
	if out.Validation.BandwidthDuration == 0 {
		out.Validation.BandwidthDuration = Duration(DefaultBandwidthDuration)
	}
	if out.Validation.BandwidthPort == 0 {
		out.Validation.BandwidthPort = DefaultBandwidthPort
	}
	out.Validation.ExpectGPU = Bool(out.ExpectsGPU())

	if out.Health.Command == nil {
		out.Health.Command = String(defaultHealthCommand)
	}
	if out.NCCL.IBDisable == nil {
		out.NCCL.IBDisable = Bool(true)
	}
	if out.NCCL.Debug == "" {
		out.NCCL.Debug = defaultNCCLDebug
	}

	hasPrimary := false
	for _, n := range out.Nodes {
		if n.IsPrimary() {
			hasPrimary = true
			break
		}
	}
	for i := range out.Nodes {
		if out.Nodes[i].User == "" {
			out.Nodes[i].User = env.User
		}
		if out.Nodes[i].Role == "" {
			if !hasPrimary && i == 0 {
				out.Nodes[i].Role = types.RolePrimary
			} else {
				out.Nodes[i].Role = types.RoleSecondary
			}
		}
	}

	return out
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
