// Package config loads and validates the LaunchPipe pipeline configuration.
//
// Configuration comes from a YAML file with environment-variable overlays for
// secrets. The cloud control-plane token is never read from the file; it only
// comes from the environment (LAUNCHPIPE_CLOUD_TOKEN), optionally seeded from
// a .env file during development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// EnvCloudToken is the environment variable holding the control-plane API token.
const EnvCloudToken = "LAUNCHPIPE_CLOUD_TOKEN"

// Config is the root pipeline configuration.
type Config struct {
	// BaseDomain is the apex under which project hostnames are derived,
	// e.g. "sites.example.app" yields "{slug}.sites.example.app".
	BaseDomain string `yaml:"base_domain" validate:"required,hostname"`

	// OutputDir is where assembled project trees are written.
	OutputDir string `yaml:"output_dir" validate:"required"`

	// RegistryDir is the root of the on-disk module registry.
	RegistryDir string `yaml:"registry_dir" validate:"required"`

	// GitHubOrg is the organization used to derive source-control links.
	GitHubOrg string `yaml:"github_org" validate:"required"`

	Generator GeneratorConfig `yaml:"generator"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Domains   DomainsConfig   `yaml:"domains"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Store     StoreConfig     `yaml:"store"`

	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// GeneratorConfig identifies the generator stamped into every manifest.
type GeneratorConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

// CloudConfig configures the control-plane API client.
type CloudConfig struct {
	// Endpoint is the GraphQL endpoint of the cloud control plane.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// Token is the API token. Populated from the environment, never from
	// the YAML file.
	Token string `yaml:"-"`

	// RateLimit is the sustained request rate allowed against the control
	// plane, shared across all services and projects in this process.
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`

	// RateBurst is the burst size of the shared limiter.
	RateBurst int `yaml:"rate_burst" validate:"gt=0"`

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// DeployConfig bounds deployment status polling.
type DeployConfig struct {
	// PollInterval is the delay between deployment status polls.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// MaxPollAttempts bounds the polling loop; exceeding it is a timeout.
	MaxPollAttempts int `yaml:"max_poll_attempts" validate:"gt=0"`
}

// DomainsConfig bounds DNS verification polling.
type DomainsConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxPollAttempts int           `yaml:"max_poll_attempts" validate:"gt=0"`
}

// ReconcileConfig tunes the fuzzy matcher.
type ReconcileConfig struct {
	// MinSharedTokens is how many qualifying tokens two normalized names
	// must share before a token-overlap match is accepted.
	MinSharedTokens int `yaml:"min_shared_tokens" validate:"gte=1"`

	// MinTokenLength filters out tokens of this length or shorter before
	// counting overlap. At least 1, so the matcher never counts
	// single-character fragments by accident.
	MinTokenLength int `yaml:"min_token_length" validate:"gte=1"`
}

// StoreConfig configures the control-plane database.
type StoreConfig struct {
	// Path is the SQLite database path. ":memory:" is accepted for tests.
	Path string `yaml:"path" validate:"required"`
}

// Default returns a configuration with every tunable at its default. The
// required identity fields (base domain, directories, org) stay empty and
// must come from the file.
func Default() *Config {
	return &Config{
		Generator: GeneratorConfig{
			ID:      "launchpipe",
			Version: "dev",
		},
		Cloud: CloudConfig{
			RateLimit:      5,
			RateBurst:      10,
			RequestTimeout: 30 * time.Second,
		},
		Deploy: DeployConfig{
			PollInterval:    5 * time.Second,
			MaxPollAttempts: 60,
		},
		Domains: DomainsConfig{
			PollInterval:    10 * time.Second,
			MaxPollAttempts: 30,
		},
		Reconcile: ReconcileConfig{
			MinSharedTokens: 2,
			MinTokenLength:  2,
		},
		Store: StoreConfig{
			Path: "launchpipe.db",
		},
		Logging: telemetry.LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file at path, overlays environment variables,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()
	cfg.Cloud.Token = os.Getenv(EnvCloudToken)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
