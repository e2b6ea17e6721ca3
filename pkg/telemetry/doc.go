// Package telemetry provides structured logging and Prometheus metrics for
// the LaunchPipe pipeline.
//
// Logging is built on zerolog. Components obtain child loggers via
// NewComponentLogger so every log line carries its originating component, and
// the logger travels through context for call sites that only hold a
// context.Context. Metrics cover the pipeline's externally observable work:
// assemblies, deployments, domain bindings, reconciliation decisions, and
// control-plane API calls. The metrics endpoint is only served in long-lived
// modes; one-shot CLI invocations leave it disabled.
package telemetry
