package telemetry

import "fmt"

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served. Only useful
	// for long-lived modes (watch/scheduled reconciliation).
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace"`
}

// Validate checks the metrics configuration for contradictions.
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.ListenAddress == "" {
		return fmt.Errorf("metrics enabled but listen_address is empty")
	}
	return nil
}
