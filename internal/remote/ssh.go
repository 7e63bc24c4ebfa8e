package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// SSHOptions configures the SSH executor
type SSHOptions struct {
	KeyPath        string
	Port           int
	ConnectTimeout time.Duration
	Backoff        Backoff
	// KnownHostsFile enables host key verification when set. Otherwise new
	// host keys are accepted, matching StrictHostKeyChecking=accept-new on
	// freshly imaged nodes.
	KnownHostsFile string
}

// SSHExecutor implements Executor over SSH with key authentication.
// Connections are cached per user@host and re-dialed after failures.
type SSHExecutor struct {
	opts   SSHOptions
	logger *zap.Logger

	signerOnce sync.Once
	signer     ssh.Signer
	signerErr  error

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

var _ Executor = (*SSHExecutor)(nil)

// NewSSHExecutor creates an executor. The private key is read on first use.
func NewSSHExecutor(opts SSHOptions, logger *zap.Logger) *SSHExecutor {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	return &SSHExecutor{
		opts:    opts,
		logger:  logger.Named("ssh"),
		clients: make(map[string]*ssh.Client),
	}
}

// Run executes command on node and waits for it to exit or time out
func (e *SSHExecutor) Run(ctx context.Context, node types.Node, command string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var stdout, stderr bytes.Buffer
	exitCode, err := e.exec(ctx, node, command, nil, &stdout, &stderr)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Host:     node.Hostname,
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	// Commands may carry secrets, so only the outcome is logged
	e.logger.Debug("command finished",
		node.ZapField(),
		zap.Int("exitCode", exitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// Copy streams a local file into remotePath on node
func (e *SSHExecutor) Copy(ctx context.Context, node types.Node, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %s %s",
		ShellQuote(path.Dir(remotePath)),
		ShellQuote(remotePath),
		strconv.FormatUint(uint64(info.Mode().Perm()), 8),
		ShellQuote(remotePath))

	var stderr bytes.Buffer
	exitCode, err := e.exec(ctx, node, cmd, f, nil, &stderr)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return &RemoteError{Kind: KindNonZeroExit, Host: node.Hostname, ExitCode: exitCode, Stderr: stderr.String()}
	}
	return nil
}

// Close tears down every cached connection
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for key, client := range e.clients {
		if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(e.clients, key)
	}
	return errors.Join(errs...)
}

func (e *SSHExecutor) exec(ctx context.Context, node types.Node, command string, stdin *os.File, stdout, stderr *bytes.Buffer) (int, error) {
	client, err := e.client(ctx, node)
	if err != nil {
		return 0, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The cached connection is likely dead; drop it so the next call re-dials
		e.forget(node, client)
		return 0, &RemoteError{Kind: KindUnreachable, Host: node.Hostname, Err: fmt.Errorf("failed to open session: %w", err)}
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}
	if stdout != nil {
		session.Stdout = stdout
	}
	if stderr != nil {
		session.Stderr = stderr
	}

	if err := session.Start(command); err != nil {
		return 0, &RemoteError{Kind: KindUnreachable, Host: node.Hostname, Err: fmt.Errorf("failed to start command: %w", err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return 0, &RemoteError{Kind: KindTimeout, Host: node.Hostname, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		e.forget(node, client)
		return 0, &RemoteError{Kind: KindUnreachable, Host: node.Hostname, Err: err}
	}
}

func (e *SSHExecutor) client(ctx context.Context, node types.Node) (*ssh.Client, error) {
	key := e.clientKey(node)

	e.mu.Lock()
	if client, ok := e.clients[key]; ok {
		e.mu.Unlock()
		return client, nil
	}
	e.mu.Unlock()

	config, err := e.clientConfig(node)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(node.Address(), strconv.Itoa(e.opts.Port))
	var client *ssh.Client
	err = e.opts.Backoff.Retry(ctx, e.logger, node.Hostname, isRetryableDialError, func() error {
		c, dialErr := e.dial(ctx, addr, config)
		if dialErr != nil {
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &RemoteError{Kind: KindTimeout, Host: node.Hostname, Err: err}
		}
		return nil, &RemoteError{Kind: KindUnreachable, Host: node.Hostname, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.clients[key]; ok {
		// Lost a race with another goroutine dialing the same host
		_ = client.Close()
		return existing, nil
	}
	e.clients[key] = client
	return client, nil
}

func (e *SSHExecutor) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: e.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Handshake done; the session governs its own lifetime from here
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (e *SSHExecutor) clientConfig(node types.Node) (*ssh.ClientConfig, error) {
	e.signerOnce.Do(func() {
		pem, err := os.ReadFile(e.opts.KeyPath)
		if err != nil {
			e.signerErr = fmt.Errorf("failed to read ssh key: %w", err)
			return
		}
		e.signer, e.signerErr = ssh.ParsePrivateKey(pem)
		if e.signerErr != nil {
			e.signerErr = fmt.Errorf("failed to parse ssh key %s: %w", e.opts.KeyPath, e.signerErr)
		}
	})
	if e.signerErr != nil {
		return nil, &RemoteError{Kind: KindUnreachable, Host: node.Hostname, Err: e.signerErr}
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(e.opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            node.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.opts.ConnectTimeout,
	}, nil
}

func (e *SSHExecutor) forget(node types.Node, client *ssh.Client) {
	key := e.clientKey(node)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clients[key] == client {
		delete(e.clients, key)
		_ = client.Close()
	}
}

func (e *SSHExecutor) clientKey(node types.Node) string {
	return node.User + "@" + node.Address()
}

// isRetryableDialError reports whether a connection attempt may succeed later.
// Authentication and host key failures will not.
func isRetryableDialError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "knownhosts:") ||
		strings.Contains(msg, "host key mismatch") {
		return false
	}
	return true
}

// ShellQuote wraps s in single quotes for a POSIX shell
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
