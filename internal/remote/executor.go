package remote

import (
	"context"
	"time"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// Result is the outcome of a command that ran to completion on a host.
// A non-zero exit code is data, not an error.
type Result struct {
	Host     string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// OK reports whether the command exited with status 0
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Err converts a non-zero exit into a *RemoteError for callers that treat
// it as a failure. It returns nil for a zero exit.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &RemoteError{
		Kind:     KindNonZeroExit,
		Host:     r.Host,
		ExitCode: r.ExitCode,
		Stderr:   r.Stderr,
	}
}

// Executor runs commands and copies files on cluster nodes as the node's
// user with the cluster key. Implementations must be safe for concurrent use.
type Executor interface {
	// Run executes command on node. It returns a *RemoteError of kind
	// Unreachable or Timeout when the command could not complete.
	Run(ctx context.Context, node types.Node, command string, timeout time.Duration) (Result, error)

	// Copy uploads a local file to remotePath on node, creating parent
	// directories as needed.
	Copy(ctx context.Context, node types.Node, localPath, remotePath string) error
}
