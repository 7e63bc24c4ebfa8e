package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// Responder produces the outcome of a faked command
type Responder func(ctx context.Context, node types.Node, command string) (Result, error)

// Call records one invocation of the fake
type Call struct {
	Host    string
	Command string
	Start   time.Time
	End     time.Time
}

type fakeRule struct {
	host     string
	contains string
	respond  Responder
}

// Fake is an in-memory Executor for tests and dry runs. Rules are matched
// newest first; a rule with an empty host matches every host. Commands that
// match no rule exit 0 with empty output.
type Fake struct {
	mu    sync.Mutex
	rules []fakeRule
	calls []Call
}

var _ Executor = (*Fake)(nil)

// NewFake creates a fake executor with no rules
func NewFake() *Fake {
	return &Fake{}
}

// On registers a responder for commands on host containing the substring
func (f *Fake) On(host, contains string, respond Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{host: host, contains: contains, respond: respond})
	return f
}

// Unreachable makes every call to host fail with KindUnreachable
func (f *Fake) Unreachable(host string) *Fake {
	return f.On(host, "", Fail(KindUnreachable))
}

// Run implements Executor
func (f *Fake) Run(ctx context.Context, node types.Node, command string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	respond := f.match(node.Hostname, command)

	var res Result
	var err error
	if ctx.Err() != nil {
		err = &RemoteError{Kind: KindTimeout, Host: node.Hostname, Err: ctx.Err()}
	} else if respond != nil {
		res, err = respond(ctx, node, command)
	}
	res.Host = node.Hostname
	res.Command = command

	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: node.Hostname, Command: command, Start: start, End: time.Now()})
	f.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Copy implements Executor by recording a "copy" call
func (f *Fake) Copy(ctx context.Context, node types.Node, localPath, remotePath string) error {
	_, err := f.Run(ctx, node, fmt.Sprintf("copy %s %s", localPath, remotePath), 0)
	return err
}

// Calls returns every recorded invocation in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the invocations against one host
func (f *Fake) CallsTo(host string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Host == host {
			out = append(out, c)
		}
	}
	return out
}

// CountMatching returns how many calls contained the substring
func (f *Fake) CountMatching(contains string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Command, contains) {
			n++
		}
	}
	return n
}

func (f *Fake) match(host, command string) Responder {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rules) - 1; i >= 0; i-- {
		r := f.rules[i]
		if r.host != "" && r.host != host {
			continue
		}
		if strings.Contains(command, r.contains) {
			return r.respond
		}
	}
	return nil
}

// Respond returns a fixed result
func Respond(stdout string, exitCode int) Responder {
	return func(ctx context.Context, node types.Node, command string) (Result, error) {
		return Result{Stdout: stdout, ExitCode: exitCode}, nil
	}
}

// Fail returns a *RemoteError of the given kind
func Fail(kind Kind) Responder {
	return func(ctx context.Context, node types.Node, command string) (Result, error) {
		return Result{}, &RemoteError{Kind: kind, Host: node.Hostname, Err: fmt.Errorf("injected %s", kind)}
	}
}

// Delay waits d before delegating to next, honoring ctx
func Delay(d time.Duration, next Responder) Responder {
	return func(ctx context.Context, node types.Node, command string) (Result, error) {
		select {
		case <-ctx.Done():
			return Result{}, &RemoteError{Kind: KindTimeout, Host: node.Hostname, Err: ctx.Err()}
		case <-time.After(d):
		}
		return next(ctx, node, command)
	}
}
