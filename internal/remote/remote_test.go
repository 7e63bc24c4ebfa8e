package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"

	"github.com/williamhogman/sparkmesh/internal/types"
)

func TestBackoff_Delays(t *testing.T) {
	delays := DefaultBackoff.Delays()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)

	capped := Backoff{Initial: time.Second, Factor: 3, Max: 5 * time.Second, MaxRetries: 4}
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second}, capped.Delays())
}

func TestBackoff_RetryEventuallySucceeds(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Factor: 2, MaxRetries: 3}
	attempts := 0

	err := b.Retry(context.Background(), zaptest.NewLogger(t), "a", func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_RetryExhausted(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Factor: 2, MaxRetries: 3}
	attempts := 0

	err := b.Retry(context.Background(), zaptest.NewLogger(t), "a", func(error) bool { return true }, func() error {
		attempts++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries reached")
	assert.Equal(t, 4, attempts)
}

func TestBackoff_NonRetryableStopsImmediately(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Factor: 2, MaxRetries: 3}
	attempts := 0
	authErr := errors.New("ssh: unable to authenticate")

	err := b.Retry(context.Background(), zaptest.NewLogger(t), "a", isRetryableDialError, func() error {
		attempts++
		return authErr
	})
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_RespectsContext(t *testing.T) {
	b := Backoff{Initial: time.Hour, Factor: 2, MaxRetries: 3}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Retry(ctx, zaptest.NewLogger(t), "a", func(error) bool { return true }, func() error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, Result{Host: "a"}.Err())

	err := Result{Host: "a", ExitCode: 3, Stderr: "boom\nmore"}.Err()
	require.Error(t, err)
	assert.Equal(t, KindNonZeroExit, KindOf(err))
	assert.Equal(t, "a: command exited with status 3: boom", err.Error())
}

func TestRemoteErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("phase ssh: %w", &RemoteError{Kind: KindUnreachable, Host: "b"})
	assert.True(t, IsUnreachable(wrapped))
	assert.False(t, IsTimeout(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}

func TestFake_RulesAndCalls(t *testing.T) {
	fake := NewFake().
		On("", "hostname", Respond("any\n", 0)).
		On("b", "hostname", Respond("bee\n", 0)).
		Unreachable("c")
	ctx := context.Background()

	res, err := fake.Run(ctx, types.Node{Hostname: "a"}, "hostname", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "any\n", res.Stdout)

	res, err = fake.Run(ctx, types.Node{Hostname: "b"}, "hostname", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bee\n", res.Stdout)

	_, err = fake.Run(ctx, types.Node{Hostname: "c"}, "hostname", time.Second)
	assert.True(t, IsUnreachable(err))

	res, err = fake.Run(ctx, types.Node{Hostname: "a"}, "true", time.Second)
	require.NoError(t, err)
	assert.True(t, res.OK())

	assert.Len(t, fake.Calls(), 4)
	assert.Len(t, fake.CallsTo("a"), 2)
	assert.Equal(t, 3, fake.CountMatching("hostname"))
}

func TestFake_Timeout(t *testing.T) {
	fake := NewFake().On("", "sleep", Delay(time.Second, Respond("", 0)))

	_, err := fake.Run(context.Background(), types.Node{Hostname: "a"}, "sleep 10", 10*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestSSHExecutor_MissingKeyIsUnreachable(t *testing.T) {
	exec := NewSSHExecutor(SSHOptions{
		KeyPath: filepath.Join(t.TempDir(), "missing"),
		Backoff: Backoff{MaxRetries: 0},
	}, zaptest.NewLogger(t))
	defer exec.Close()

	_, err := exec.Run(context.Background(), types.Node{Hostname: "a", IP: "127.0.0.1"}, "true", time.Second)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// startStallingServer runs an SSH server that accepts any key and starts
// every command without ever reporting an exit status
func startStallingServer(t *testing.T) (port int, keyPath string) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostSigner)

	_, clientKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientKey, "")
	require.NoError(t, err)
	keyPath = filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, chans, reqs, err := ssh.NewServerConn(conn, config)
				if err != nil {
					return
				}
				go ssh.DiscardRequests(reqs)
				for newCh := range chans {
					ch, chReqs, err := newCh.Accept()
					if err != nil {
						continue
					}
					go func() {
						defer ch.Close()
						for req := range chReqs {
							if req.WantReply {
								_ = req.Reply(req.Type == "exec", nil)
							}
						}
					}()
				}
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, keyPath
}

func TestSSHExecutor_CancelledCommandIsTimeout(t *testing.T) {
	port, keyPath := startStallingServer(t)
	exec := NewSSHExecutor(SSHOptions{KeyPath: keyPath, Port: port, Backoff: Backoff{MaxRetries: 0}}, zaptest.NewLogger(t))
	defer exec.Close()
	node := types.Node{Hostname: "a", IP: "127.0.0.1", User: "nvidia"}

	_, err := exec.Run(context.Background(), node, "sleep 600", 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err = exec.Run(ctx, node, "sleep 600", 0)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
