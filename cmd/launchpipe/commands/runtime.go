package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/config"
	"github.com/launchpipe/launchpipe/pkg/stores"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// runtime bundles the long-lived pieces every command needs: validated
// config, telemetry, and the control-plane store with migrations applied.
type runtime struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	store   *stores.SQLiteStore
}

// newRuntime loads the config file and opens the store. Callers must Close.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		// Keep human-readable log lines off stdout when the command's own
		// output is JSON.
		cfg.Logging.Format = "json"
	}

	log, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return &runtime{cfg: cfg, log: log, metrics: metrics, store: store}, nil
}

// Close releases the runtime's resources.
func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("failed to close store")
	}
}

// cloudClient builds the control-plane client. The token comes from the
// environment only; commands that never touch the cloud skip this.
func (r *runtime) cloudClient() (*cloud.Client, error) {
	if r.cfg.Cloud.Token == "" {
		return nil, fmt.Errorf("cloud API token not set; export %s", config.EnvCloudToken)
	}
	return cloud.NewClient(cloud.Options{
		Endpoint:       r.cfg.Cloud.Endpoint,
		Token:          r.cfg.Cloud.Token,
		RateLimit:      r.cfg.Cloud.RateLimit,
		RateBurst:      r.cfg.Cloud.RateBurst,
		RequestTimeout: r.cfg.Cloud.RequestTimeout,
	}, r.log, r.metrics), nil
}

// startRun records the beginning of a pipeline run. A broken audit trail is
// logged, not fatal; the pipeline itself still runs.
func (r *runtime) startRun(ctx context.Context, kind, project string) *stores.Run {
	run := &stores.Run{Kind: kind, Project: project, Status: stores.RunStatusRunning}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.log.Warn().Err(err).Str("kind", kind).Msg("failed to record run start")
		return nil
	}
	return run
}

// finishRun stamps the run's terminal status.
func (r *runtime) finishRun(ctx context.Context, run *stores.Run, runErr error) {
	if run == nil {
		return
	}
	status := stores.RunStatusCompleted
	var msg *string
	if runErr != nil {
		status = stores.RunStatusFailed
		s := runErr.Error()
		msg = &s
	}
	if err := r.store.UpdateRunStatus(ctx, run.ID, status, msg); err != nil {
		r.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run completion")
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
