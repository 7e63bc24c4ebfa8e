package types

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunPrefix is prepended to run identifiers when rendered for humans
const RunPrefix = "run-"

// ErrEmptyID is returned when an identifier is blank
var ErrEmptyID = errors.New("ID cannot be empty")

// RunID identifies a single orchestrator run
type RunID string

// NewRunID creates a RunID from a string, removing the prefix if present
func NewRunID(id string) (RunID, error) {
	cleanID := strings.TrimPrefix(id, RunPrefix)
	if cleanID == "" {
		return "", ErrEmptyID
	}
	return RunID(cleanID), nil
}

// GenerateRunID creates a new random run ID
func GenerateRunID() RunID {
	return RunID(uuid.NewString())
}

// IsValid returns true if the run ID is not empty
func (r RunID) IsValid() bool {
	return r != ""
}

// String returns the raw run ID without prefix
func (r RunID) String() string {
	return string(r)
}

// WithPrefix returns the run ID with the 'run-' prefix
func (r RunID) WithPrefix() string {
	if !r.IsValid() {
		return ""
	}
	return RunPrefix + string(r)
}

func (r RunID) ZapField() zap.Field {
	if !r.IsValid() {
		return zap.Skip()
	}
	return zap.String("runID", string(r))
}
