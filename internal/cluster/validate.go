package cluster

import (
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/williamhogman/sparkmesh/internal/types"
)

const maxParallelLimit = 256

// Validate checks cfg and returns a *ConfigError listing every violation,
// or nil when the config is usable. Unset optional fields are accepted since
// ApplyDefaults fills them.
func Validate(cfg *ClusterConfig) error {
	var errs *multierror.Error

	if cfg.ClusterName == "" {
		errs = multierror.Append(errs, fmt.Errorf("cluster_name is required"))
	}
	if len(cfg.Nodes) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("nodes must list at least one node"))
	}

	seen := make(map[string]int, len(cfg.Nodes))
	primaries := 0
	for i, n := range cfg.Nodes {
		if n.Hostname == "" {
			errs = multierror.Append(errs, fmt.Errorf("nodes[%d].hostname is required", i))
		} else if first, dup := seen[n.Hostname]; dup {
			errs = multierror.Append(errs, fmt.Errorf("nodes[%d].hostname %q duplicates nodes[%d]", i, n.Hostname, first))
		} else {
			seen[n.Hostname] = i
		}
		if n.IP != "" && net.ParseIP(n.IP) == nil {
			errs = multierror.Append(errs, fmt.Errorf("nodes[%d].ip %q is not a valid IP address", i, n.IP))
		}
		if n.Role != "" && !n.Role.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("nodes[%d].role %q must be %q or %q", i, n.Role, types.RolePrimary, types.RoleSecondary))
		}
		if n.IsPrimary() {
			primaries++
		}
	}
	if primaries > 1 {
		errs = multierror.Append(errs, fmt.Errorf("at most one node may have role %q, found %d", types.RolePrimary, primaries))
	}

	if cfg.SSHPort < 0 || cfg.SSHPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("ssh_port %d is outside 1-65535", cfg.SSHPort))
	}
	if cfg.ConnectTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("connect_timeout must be positive"))
	}
	if cfg.CommandTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("command_timeout must be positive"))
	}
	if cfg.MaxParallel < 0 || cfg.MaxParallel > maxParallelLimit {
		errs = multierror.Append(errs, fmt.Errorf("max_parallel %d is outside 1-%d", cfg.MaxParallel, maxParallelLimit))
	}

	if cfg.TailscaleEnabled() && cfg.TailscaleAuthKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("tailscale_auth_key is required when enable_tailscale is true"))
	}
	if !cfg.TailscaleEnabled() && cfg.TailscaleAuthKey != "" {
		errs = multierror.Append(errs, fmt.Errorf("tailscale_auth_key is set but enable_tailscale is false"))
	}

	for i, kind := range cfg.Validation.Tests {
		if !kind.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("validation.tests[%d] %q is not a known test", i, kind))
		}
	}
	if cfg.Validation.PingCount < 0 {
		errs = multierror.Append(errs, fmt.Errorf("validation.ping_count must be positive"))
	}
	if cfg.Validation.BandwidthDuration < 0 {
		errs = multierror.Append(errs, fmt.Errorf("validation.bandwidth_duration must be positive"))
	}
	if cfg.Validation.BandwidthPort < 0 || cfg.Validation.BandwidthPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("validation.bandwidth_port %d is outside 1-65535", cfg.Validation.BandwidthPort))
	}

	if errs != nil {
		return newConfigError("", errs)
	}
	return nil
}
