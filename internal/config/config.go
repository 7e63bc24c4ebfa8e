package config

import (
	"fmt"
	"io"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/fx"
)

// Config holds process-level settings shared by the sparkmesh binaries.
// Cluster topology lives in the cluster file, not here.
type Config struct {
	// Logging settings
	Logging LoggingConfig `envconfig:"LOGGING"`

	// Remote execution settings
	Remote RemoteConfig `envconfig:"REMOTE"`

	// Report persistence settings
	State StateConfig `envconfig:"STATE"`

	// Health endpoint settings
	Health HealthConfig `envconfig:"HEALTH"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Development bool   `envconfig:"DEV" default:"false"` // Whether to use development logger (more verbose)
	Level       string `envconfig:"LEVEL" default:"info"`
}

// RemoteConfig controls how the SSH adapter retries connection attempts
type RemoteConfig struct {
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"2s"`
	MaxBackoff     time.Duration `envconfig:"MAX_BACKOFF" default:"16s"`
	BackoffFactor  float64       `envconfig:"BACKOFF_FACTOR" default:"2.0"`
	KnownHostsFile string        `envconfig:"KNOWN_HOSTS_FILE"`
}

// StateConfig selects where run reports are kept between invocations
type StateConfig struct {
	Backend  string        `envconfig:"BACKEND" default:"file"` // "file" or "redis"
	Dir      string        `envconfig:"DIR" default:".sparkmesh"`
	RedisURI string        `envconfig:"REDIS_URI" default:"redis://localhost:6379/0"`
	History  int           `envconfig:"HISTORY" default:"20"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"2m"`
}

// HealthConfig contains settings for the health aggregator and its server
type HealthConfig struct {
	Addr           string        `envconfig:"ADDR" default:":8090"`
	SampleWindow   time.Duration `envconfig:"SAMPLE_WINDOW" default:"1s"`
	RequireGPU     bool          `envconfig:"REQUIRE_GPU" default:"false"`
	Processes      []string      `envconfig:"PROCESSES"`
	Interfaces     []string      `envconfig:"INTERFACES"`
	DiskPath       string        `envconfig:"DISK_PATH" default:"/"`
	ServiceTimeout time.Duration `envconfig:"SERVICE_TIMEOUT" default:"5s"`
}

// Module provides configuration to the fx container
var Module = fx.Options(
	fx.Provide(LoadConfig),
)

// LoadConfig loads configuration from environment variables using envconfig
func LoadConfig() (*Config, error) {
	var config Config

	// Process environment variables with "SPARKMESH" prefix
	if err := envconfig.Process("SPARKMESH", &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return &config, nil
}

// PrintConfig writes the current configuration for debugging
func PrintConfig(w io.Writer, config *Config) {
	fmt.Fprintln(w, "sparkmesh settings:")
	fmt.Fprintln(w, "------------------------")
	fmt.Fprintf(w, "Development Logging: %t\n", config.Logging.Development)
	fmt.Fprintf(w, "Remote Max Retries: %d\n", config.Remote.MaxRetries)
	fmt.Fprintf(w, "Remote Initial Backoff: %s\n", config.Remote.InitialBackoff)
	fmt.Fprintf(w, "Remote Backoff Factor: %f\n", config.Remote.BackoffFactor)
	fmt.Fprintf(w, "State Backend: %s\n", config.State.Backend)
	fmt.Fprintf(w, "State Dir: %s\n", config.State.Dir)
	fmt.Fprintf(w, "Health Address: %s\n", config.Health.Addr)
	fmt.Fprintln(w, "------------------------")
}
