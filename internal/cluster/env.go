package cluster

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvOverrides carries the parts of the process environment that affect a
// cluster config. Only entry points read the environment; everything below
// them receives this struct explicitly.
type EnvOverrides struct {
	TailscaleAuthKey string `envconfig:"TAILSCALE_AUTH_KEY"`
	User             string `envconfig:"USER"`
	Home             string `envconfig:"HOME"`
}

// LoadEnvOverrides reads EnvOverrides from the process environment
func LoadEnvOverrides() (EnvOverrides, error) {
	var env EnvOverrides
	if err := envconfig.Process("", &env); err != nil {
		return EnvOverrides{}, fmt.Errorf("failed to process environment overrides: %w", err)
	}
	return env, nil
}
