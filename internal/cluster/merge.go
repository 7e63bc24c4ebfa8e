package cluster

import "github.com/williamhogman/sparkmesh/internal/types"

// Clone returns a deep copy of the config
func (c ClusterConfig) Clone() ClusterConfig {
	out := c
	out.Nodes = append([]types.Node(nil), c.Nodes...)
	out.EnableTailscale = cloneBool(c.EnableTailscale)
	out.EnableNCCL = cloneBool(c.EnableNCCL)
	out.EnableMultiNode = cloneBool(c.EnableMultiNode)
	out.ValidateOnFailure = cloneBool(c.ValidateOnFailure)
	out.Validation.Tests = append([]types.TestKind(nil), c.Validation.Tests...)
	out.Validation.ExpectGPU = cloneBool(c.Validation.ExpectGPU)
	if c.Health.Command != nil {
		out.Health.Command = String(*c.Health.Command)
	}
	out.Health.RequiredProcesses = append([]string(nil), c.Health.RequiredProcesses...)
	out.NCCL.IBDisable = cloneBool(c.NCCL.IBDisable)
	out.Extensions = mergeMaps(nil, c.Extensions)
	return out
}

// Merge overlays override on base and returns the result. Fields left unset
// in override keep the base value; the node list is replaced wholesale when
// override names any nodes; extensions merge key by key. Neither input is
// modified.
func Merge(base, override ClusterConfig) ClusterConfig {
	out := base.Clone()
	o := override.Clone()

	if o.ClusterName != "" {
		out.ClusterName = o.ClusterName
	}
	if len(o.Nodes) > 0 {
		out.Nodes = o.Nodes
	}
	if o.SSHKeyPath != "" {
		out.SSHKeyPath = o.SSHKeyPath
	}
	if o.SSHPort != 0 {
		out.SSHPort = o.SSHPort
	}
	if o.EnableTailscale != nil {
		out.EnableTailscale = o.EnableTailscale
	}
	if o.EnableNCCL != nil {
		out.EnableNCCL = o.EnableNCCL
	}
	if o.EnableMultiNode != nil {
		out.EnableMultiNode = o.EnableMultiNode
	}
	if o.TailscaleAuthKey != "" {
		out.TailscaleAuthKey = o.TailscaleAuthKey
	}
	if o.ConnectTimeout != 0 {
		out.ConnectTimeout = o.ConnectTimeout
	}
	if o.CommandTimeout != 0 {
		out.CommandTimeout = o.CommandTimeout
	}
	if o.MaxParallel != 0 {
		out.MaxParallel = o.MaxParallel
	}
	if o.ValidateOnFailure != nil {
		out.ValidateOnFailure = o.ValidateOnFailure
	}

	if len(o.Validation.Tests) > 0 {
		out.Validation.Tests = o.Validation.Tests
	}
	if o.Validation.PingCount != 0 {
		out.Validation.PingCount = o.Validation.PingCount
	}
	if o.Validation.BandwidthDuration != 0 {
		out.Validation.BandwidthDuration = o.Validation.BandwidthDuration
	}
	if o.Validation.BandwidthPort != 0 {
		out.Validation.BandwidthPort = o.Validation.BandwidthPort
	}
	if o.Validation.ExpectGPU != nil {
		out.Validation.ExpectGPU = o.Validation.ExpectGPU
	}

	if o.Health.Command != nil {
		out.Health.Command = o.Health.Command
	}
	if len(o.Health.RequiredProcesses) > 0 {
		out.Health.RequiredProcesses = o.Health.RequiredProcesses
	}

	if o.NCCL.SocketIfname != "" {
		out.NCCL.SocketIfname = o.NCCL.SocketIfname
	}
	if o.NCCL.IBDisable != nil {
		out.NCCL.IBDisable = o.NCCL.IBDisable
	}
	if o.NCCL.Debug != "" {
		out.NCCL.Debug = o.NCCL.Debug
	}

	out.Extensions = mergeMaps(out.Extensions, o.Extensions)
	return out
}

// mergeMaps deep-copies base and overlays override onto the copy.
// Nested maps are merged recursively; any other override value wins.
func mergeMaps(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range override {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(existing, sub)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return mergeMaps(nil, t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	return Bool(*p)
}
