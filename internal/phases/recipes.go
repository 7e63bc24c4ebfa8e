package phases

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
)

// Step is one shell command of a recipe
type Step struct {
	Name    string
	Command string
	// Upload, when set, copies a local file to Command's path instead of running it
	Upload string
}

// Recipe runs an ordered list of idempotent steps on a node
type Recipe struct {
	phase  types.Phase
	exec   remote.Executor
	steps  func(Target) []Step
	logger *zap.Logger
}

var _ Executor = (*Recipe)(nil)

// Execute runs every step and stops at the first failure
func (r *Recipe) Execute(ctx context.Context, target Target) error {
	timeout := target.Cluster.CommandTimeout.Std()
	logger := r.logger.With(zap.String("phase", string(r.phase)), target.Node.ZapField())

	for _, step := range r.steps(target) {
		start := time.Now()
		if step.Upload != "" {
			if err := r.exec.Copy(ctx, target.Node, step.Upload, step.Command); err != nil {
				return fmt.Errorf("step %q: %w", step.Name, err)
			}
		} else {
			res, err := r.exec.Run(ctx, target.Node, step.Command, timeout)
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				return fmt.Errorf("step %q: %w", step.Name, err)
			}
		}
		logger.Debug("step done", zap.String("step", step.Name), zap.Duration("duration", time.Since(start)))
	}
	return nil
}

// NewDefaultRegistry binds the built-in recipes for every provisioning phase
func NewDefaultRegistry(exec remote.Executor, logger *zap.Logger) *Registry {
	logger = logger.Named("phases")
	recipe := func(phase types.Phase, steps func(Target) []Step) *Recipe {
		return &Recipe{phase: phase, exec: exec, steps: steps, logger: logger}
	}

	return NewRegistry().
		Register(types.PhaseSSH, recipe(types.PhaseSSH, sshSteps)).
		Register(types.PhaseTailscale, recipe(types.PhaseTailscale, tailscaleSteps)).
		Register(types.PhaseMultiNode, recipe(types.PhaseMultiNode, multiNodeSteps)).
		Register(types.PhaseNCCL, recipe(types.PhaseNCCL, ncclSteps))
}

const (
	stagedPubKey = ".ssh/sparkmesh.pub"
	hostfilePath = ".sparkmesh/hostfile"
)

// sshSteps installs the cluster key so every node accepts it and can use it
// to reach its peers
func sshSteps(t Target) []Step {
	keyName := filepath.Base(t.Cluster.SSHKeyPath)
	return []Step{
		{
			Name:    "prepare ssh directory",
			Command: "mkdir -p ~/.ssh && chmod 700 ~/.ssh && touch ~/.ssh/authorized_keys && chmod 600 ~/.ssh/authorized_keys",
		},
		{Name: "stage public key", Upload: t.Cluster.SSHKeyPath + ".pub", Command: stagedPubKey},
		{
			Name:    "authorize public key",
			Command: fmt.Sprintf("grep -qxF -f %[1]s ~/.ssh/authorized_keys || cat %[1]s >> ~/.ssh/authorized_keys", stagedPubKey),
		},
		{Name: "install private key", Upload: t.Cluster.SSHKeyPath, Command: path.Join(".ssh", keyName)},
		{
			Name:    "install ssh config",
			Command: sshConfigCommand(t, keyName),
		},
	}
}

func sshConfigCommand(t Target, keyName string) string {
	var hosts []string
	for _, n := range t.Cluster.Nodes {
		hosts = append(hosts, n.Hostname)
	}
	block := fmt.Sprintf("Host %s\n  IdentityFile ~/.ssh/%s\n  Port %d\n  StrictHostKeyChecking accept-new\n  ServerAliveInterval 60\n",
		strings.Join(hosts, " "), keyName, t.Cluster.SSHPort)
	marker := "# sparkmesh " + t.Cluster.ClusterName
	return fmt.Sprintf("touch ~/.ssh/config && chmod 600 ~/.ssh/config && (grep -qxF %s ~/.ssh/config || printf '%%s\\n%%s' %s %s >> ~/.ssh/config)",
		remote.ShellQuote(marker), remote.ShellQuote(marker), remote.ShellQuote(block))
}

// tailscaleSteps installs the client if missing and joins the tailnet once
func tailscaleSteps(t Target) []Step {
	return []Step{
		{
			Name:    "install tailscale",
			Command: "command -v tailscale >/dev/null 2>&1 || curl -fsSL https://tailscale.com/install.sh | sh",
		},
		{
			Name: "join tailnet",
			Command: fmt.Sprintf("tailscale status >/dev/null 2>&1 || sudo tailscale up --authkey=%s --hostname=%s",
				remote.ShellQuote(t.Cluster.TailscaleAuthKey), remote.ShellQuote(t.Node.Hostname)),
		},
	}
}

// multiNodeSteps makes every node resolvable by name and writes an MPI hostfile
func multiNodeSteps(t Target) []Step {
	var steps []Step
	for _, n := range t.Cluster.Nodes {
		if n.IP == "" || n.Hostname == t.Node.Hostname {
			continue
		}
		entry := n.IP + " " + n.Hostname
		steps = append(steps, Step{
			Name: "hosts entry " + n.Hostname,
			Command: fmt.Sprintf("grep -qxF %[1]s /etc/hosts || echo %[1]s | sudo tee -a /etc/hosts >/dev/null",
				remote.ShellQuote(entry)),
		})
	}

	var lines []string
	for _, n := range t.Cluster.Nodes {
		lines = append(lines, n.Hostname+" slots=1")
	}
	steps = append(steps, Step{
		Name: "write hostfile",
		Command: fmt.Sprintf("mkdir -p %s && printf '%%s\\n' %s > %s",
			path.Dir(hostfilePath), quoteAll(lines), hostfilePath),
	})
	return steps
}

// ncclSteps checks that NCCL is installed and writes its environment
func ncclSteps(t Target) []Step {
	return []Step{
		{Name: "check nccl library", Command: "ldconfig -p | grep -q libnccl"},
		{
			Name:    "write nccl.conf",
			Command: fmt.Sprintf("printf '%%s\\n' %s | sudo tee /etc/nccl.conf >/dev/null", quoteAll(NCCLEnv(t))),
		},
	}
}

// NCCLEnv returns the KEY=value lines written to /etc/nccl.conf
func NCCLEnv(t Target) []string {
	nccl := t.Cluster.NCCL
	var env []string
	if nccl.SocketIfname != "" {
		env = append(env, "NCCL_SOCKET_IFNAME="+nccl.SocketIfname)
	}
	if nccl.IBDisable == nil || *nccl.IBDisable {
		env = append(env, "NCCL_IB_DISABLE=1")
	} else {
		env = append(env, "NCCL_IB_DISABLE=0")
	}
	if nccl.Debug != "" {
		env = append(env, "NCCL_DEBUG="+nccl.Debug)
	}
	return env
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = remote.ShellQuote(s)
	}
	return strings.Join(quoted, " ")
}
