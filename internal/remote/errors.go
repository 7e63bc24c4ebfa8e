package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote execution failure
type Kind string

const (
	KindUnreachable Kind = "unreachable"
	KindTimeout     Kind = "timeout"
	KindNonZeroExit Kind = "non_zero_exit"
)

// RemoteError describes why a command on a host did not succeed
type RemoteError struct {
	Kind     Kind
	Host     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		if e.Stderr != "" {
			return fmt.Sprintf("%s: command exited with status %d: %s", e.Host, e.ExitCode, firstLine(e.Stderr))
		}
		return fmt.Sprintf("%s: command exited with status %d", e.Host, e.ExitCode)
	case KindTimeout:
		return fmt.Sprintf("%s: command timed out", e.Host)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: host unreachable: %v", e.Host, e.Err)
		}
		return fmt.Sprintf("%s: host unreachable", e.Host)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *RemoteError in err's chain, or "" if none
func KindOf(err error) Kind {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

// IsUnreachable reports whether err means the host could not be reached
func IsUnreachable(err error) bool {
	return KindOf(err) == KindUnreachable
}

// IsTimeout reports whether err means the command exceeded its deadline
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
