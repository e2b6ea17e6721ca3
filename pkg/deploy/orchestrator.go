package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/stores"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// Options tunes the orchestrator's polling loops.
type Options struct {
	// PollInterval is the delay between deployment status polls.
	PollInterval time.Duration

	// MaxPollAttempts bounds each polling loop. Exceeding it marks the
	// service failed with reason timeout; the loop never runs unbounded.
	MaxPollAttempts int
}

// Orchestrator drives project services through the deployment state machine
// against the cloud control plane.
type Orchestrator struct {
	cp      ControlPlane
	opts    Options
	auditor Auditor
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewOrchestrator creates a deployment orchestrator. auditor may be nil.
func NewOrchestrator(cp ControlPlane, opts Options, auditor Auditor, log *telemetry.Logger, metrics *telemetry.Metrics) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 60
	}
	return &Orchestrator{
		cp:      cp,
		opts:    opts,
		auditor: auditor,
		log:     log.NewComponentLogger("deploy"),
		metrics: metrics,
	}
}

// DeployProject provisions and deploys every service of an assembled
// project. Services are handled sequentially within the project; each one's
// outcome is independent, so a failed backend still leaves frontend and
// admin with their own terminal states. The returned outcome always covers
// every service the manifest calls for.
func (o *Orchestrator) DeployProject(ctx context.Context, manifest *assembler.Manifest, treePath string) (*ProjectOutcome, error) {
	project, err := o.ensureProject(ctx, manifest.Slug)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure cloud project %s: %w", manifest.Slug, err)
	}

	outcome := &ProjectOutcome{
		ProjectID: project.ID,
		Slug:      manifest.Slug,
		Services:  make(map[modules.Kind]*ServiceRecord),
	}

	for _, kind := range modules.Kinds {
		if !kindWanted(manifest.Counts, kind) {
			continue
		}
		rec := &ServiceRecord{
			Kind:  kind,
			Name:  fmt.Sprintf("%s-%s", manifest.Slug, kind),
			State: ServiceStateAbsent,
		}
		outcome.Services[kind] = rec
		o.deployService(ctx, project, rec, filepath.Join(treePath, string(kind)))
	}

	return outcome, nil
}

// kindWanted reports whether the manifest includes modules for the kind.
func kindWanted(counts assembler.ServiceCounts, kind modules.Kind) bool {
	switch kind {
	case modules.KindFrontend:
		return counts.Frontend > 0
	case modules.KindBackend:
		return counts.Backend > 0
	case modules.KindAdmin:
		return counts.Admin > 0
	}
	return false
}

// deployService walks one service through absent -> creating -> deploying ->
// terminal. Failures land on the record; they are never returned, because a
// sibling service must still get its attempt.
func (o *Orchestrator) deployService(ctx context.Context, project *cloud.Project, rec *ServiceRecord, source string) {
	start := time.Now()

	o.transition(ctx, rec, ServiceStateCreating)
	svc, err := o.ensureService(ctx, project, rec.Name)
	if err != nil {
		o.failService(ctx, rec, ReasonProvisioning, &ProvisioningError{Service: rec.Name, Err: err})
		o.metrics.RecordDeployment(string(rec.Kind), "provisioning_failed", time.Since(start), 0)
		return
	}
	rec.ServiceID = svc.ID

	o.transition(ctx, rec, ServiceStateDeploying)
	deployID, err := o.cp.DeployService(ctx, svc.ID, source)
	if err != nil {
		o.failService(ctx, rec, ReasonDeployment, &ProvisioningError{Service: rec.Name, Err: err})
		o.metrics.RecordDeployment(string(rec.Kind), "trigger_failed", time.Since(start), 0)
		return
	}
	rec.DeploymentID = deployID

	status, attempts, err := o.pollDeployment(ctx, deployID)
	rec.Status = status
	switch {
	case err != nil:
		o.failService(ctx, rec, ReasonTimeout, err)
		o.metrics.RecordDeployment(string(rec.Kind), ReasonTimeout, time.Since(start), attempts)
	case status == cloud.DeploymentStatusSuccess:
		o.transition(ctx, rec, ServiceStateSuccess)
		o.metrics.RecordDeployment(string(rec.Kind), "success", time.Since(start), attempts)
	default:
		o.failService(ctx, rec, ReasonDeployment, &ProvisioningError{
			Service: rec.Name,
			Err:     fmt.Errorf("deployment %s ended with status %s", deployID, status),
		})
		o.metrics.RecordDeployment(string(rec.Kind), "failed", time.Since(start), attempts)
	}
}

// ensureProject finds the provider project by name or creates it. Reusing
// an existing project keeps retries from orphaning cloud resources.
func (o *Orchestrator) ensureProject(ctx context.Context, name string) (*cloud.Project, error) {
	projects, err := o.cp.Projects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i], nil
		}
	}
	return o.cp.CreateProject(ctx, name)
}

// ensureService finds a service by logical name within the project or
// creates it.
func (o *Orchestrator) ensureService(ctx context.Context, project *cloud.Project, name string) (*cloud.Service, error) {
	// The project listing may be stale; refetch to see services created by
	// an earlier partial run.
	fresh, err := o.cp.Project(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for i := range fresh.Services {
		if fresh.Services[i].Name == name {
			o.log.Debug().Str("service", name).Str("service_id", fresh.Services[i].ID).Msg("reusing existing service")
			return &fresh.Services[i], nil
		}
	}
	return o.cp.CreateService(ctx, project.ID, name)
}

// pollDeployment polls a deployment until terminal status, bounded by the
// configured attempt budget and the context deadline. Exhausting either
// bound returns a TimeoutError; the caller records failed(timeout) so the
// record is never left ambiguously in progress.
func (o *Orchestrator) pollDeployment(ctx context.Context, deployID string) (cloud.DeploymentStatus, int, error) {
	start := time.Now()
	last := cloud.DeploymentStatusQueued

	for attempt := 1; attempt <= o.opts.MaxPollAttempts; attempt++ {
		dep, err := o.cp.Deployment(ctx, deployID)
		if err == nil {
			last = dep.Status
			if last.Terminal() {
				return last, attempt, nil
			}
		} else {
			// Transient poll errors consume an attempt and the loop
			// continues; the attempt bound still caps total waiting.
			o.log.Warn().Err(err).Str("deployment", deployID).Int("attempt", attempt).Msg("deployment status poll failed")
		}

		select {
		case <-time.After(o.opts.PollInterval):
		case <-ctx.Done():
			return last, attempt, &cloud.TimeoutError{Operation: "deployment " + deployID, Attempts: attempt, Elapsed: time.Since(start)}
		}
	}

	return last, o.opts.MaxPollAttempts, &cloud.TimeoutError{
		Operation: "deployment " + deployID,
		Attempts:  o.opts.MaxPollAttempts,
		Elapsed:   time.Since(start),
	}
}

// transition advances a record's state with logging and audit.
func (o *Orchestrator) transition(ctx context.Context, rec *ServiceRecord, state ServiceState) {
	o.log.Info().
		Str("service", rec.Name).
		Str("from", string(rec.State)).
		Str("to", string(state)).
		Msg("service transition")
	rec.State = state
	o.audit(ctx, rec, string(state), stores.EventLevelInfo)
}

// failService marks a record terminally failed with its reason.
func (o *Orchestrator) failService(ctx context.Context, rec *ServiceRecord, reason string, err error) {
	rec.State = ServiceStateFailed
	rec.Reason = reason
	rec.Err = err
	o.log.Error().
		Err(err).
		Str("service", rec.Name).
		Str("reason", reason).
		Msg("service failed")
	o.audit(ctx, rec, "failed("+reason+")", stores.EventLevelError)
}

// audit appends one service-transition event when an auditor is attached.
func (o *Orchestrator) audit(ctx context.Context, rec *ServiceRecord, detail string, level stores.EventLevel) {
	if o.auditor == nil {
		return
	}
	ev := &stores.Event{
		Type:    stores.EventTypeServiceTransition,
		Source:  "deploy",
		Project: rec.Name,
		Message: fmt.Sprintf("service %s -> %s", rec.Name, detail),
		Level:   level,
	}
	if err := o.auditor.AppendEvent(ctx, ev); err != nil {
		o.log.Warn().Err(err).Msg("failed to append audit event")
	}
}

// DeleteProject deletes a cloud project after verifying it is not the
// protected one. keepID names the project that must survive; passing the
// protected id as the target, or an empty keepID, aborts before any
// mutation. Deletion is irreversible.
func (o *Orchestrator) DeleteProject(ctx context.Context, projectID, keepID string) error {
	if keepID == "" {
		return fmt.Errorf("refusing to delete without an explicit project to keep")
	}
	if projectID == keepID {
		return fmt.Errorf("refusing to delete project %s: it is the protected project", projectID)
	}

	// Read-verify: the target must exist and must not resolve to the
	// protected project through a stale id.
	target, err := o.cp.Project(ctx, projectID)
	if err != nil {
		return fmt.Errorf("pre-delete verification failed for project %s: %w", projectID, err)
	}
	if target.ID == keepID {
		return fmt.Errorf("refusing to delete project %s: resolves to the protected project", projectID)
	}

	if err := o.cp.DeleteProject(ctx, target.ID); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", target.ID, err)
	}

	// Post-verify: the project must be gone. Anything else is reported
	// loudly; a destructive operation never half-succeeds in silence.
	if _, err := o.cp.Project(ctx, target.ID); err == nil {
		return fmt.Errorf("project %s still present after deletion", target.ID)
	} else if !cloud.IsNotFound(err) {
		return fmt.Errorf("post-delete verification inconclusive for project %s: %w", target.ID, err)
	}

	o.log.Info().Str("project_id", target.ID).Str("project", target.Name).Msg("deleted cloud project")
	if o.auditor != nil {
		ev := &stores.Event{
			Type:    stores.EventTypeProjectDeleted,
			Source:  "deploy",
			Project: target.Name,
			Message: fmt.Sprintf("deleted cloud project %s (%s)", target.Name, target.ID),
			Level:   stores.EventLevelWarning,
		}
		if err := o.auditor.AppendEvent(ctx, ev); err != nil {
			o.log.Warn().Err(err).Msg("failed to append audit event")
		}
	}
	return nil
}
