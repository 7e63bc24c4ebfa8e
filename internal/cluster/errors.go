package cluster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor JSON
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// ConfigError reports every violation found in a cluster config
type ConfigError struct {
	Source string
	errs   *multierror.Error
}

func newConfigError(source string, errs *multierror.Error) *ConfigError {
	errs.ErrorFormat = listFormat
	return &ConfigError{Source: source, errs: errs}
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return "invalid cluster config: " + e.errs.Error()
	}
	return fmt.Sprintf("invalid cluster config %s: %s", e.Source, e.errs.Error())
}

// Unwrap exposes the individual violations to errors.Is / errors.As
func (e *ConfigError) Unwrap() []error {
	return e.errs.WrappedErrors()
}

// Violations returns one message per violation
func (e *ConfigError) Violations() []string {
	out := make([]string, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		out = append(out, err.Error())
	}
	return out
}

// IsConfigError reports whether err is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}

func listFormat(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	points := make([]string, len(errs))
	for i, err := range errs {
		points[i] = "- " + err.Error()
	}
	return fmt.Sprintf("%d violations:\n%s", len(errs), strings.Join(points, "\n"))
}
