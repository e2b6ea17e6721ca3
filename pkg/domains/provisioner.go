// Package domains derives canonical hostnames for a project's services and
// drives custom-domain binding and DNS verification against the control
// plane.
package domains

import (
	"context"
	"fmt"
	"time"

	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/deploy"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/stores"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// DomainError reports a genuine binding or verification failure for one
// hostname. "Already exists" answers never become DomainErrors; rebinding an
// existing hostname is the idempotent happy path.
type DomainError struct {
	// Hostname is the hostname being bound.
	Hostname string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("domain binding failed for %s: %v", e.Hostname, e.Err)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Hostnames derives the canonical hostname per service kind from a
// normalized project name: {slug}.{base} for the frontend, api.{slug}.{base}
// for the backend, admin.{slug}.{base} for the admin service.
func Hostnames(slugName, baseDomain string) map[modules.Kind]string {
	return map[modules.Kind]string{
		modules.KindFrontend: fmt.Sprintf("%s.%s", slugName, baseDomain),
		modules.KindBackend:  fmt.Sprintf("api.%s.%s", slugName, baseDomain),
		modules.KindAdmin:    fmt.Sprintf("admin.%s.%s", slugName, baseDomain),
	}
}

// ControlPlane is the slice of the cloud API the provisioner needs.
type ControlPlane interface {
	CreateCustomDomain(ctx context.Context, serviceID, domain string) (*cloud.CustomDomain, error)
	CustomDomain(ctx context.Context, id string) (*cloud.CustomDomain, error)
}

// Options tunes domain provisioning.
type Options struct {
	// BaseDomain is the apex under which hostnames are derived.
	BaseDomain string

	// PollInterval is the delay between DNS verification polls.
	PollInterval time.Duration

	// MaxPollAttempts bounds verification polling; exceeding it reports a
	// timeout instead of retrying forever.
	MaxPollAttempts int
}

// Provisioner binds custom domains to deployed services.
type Provisioner struct {
	cp      ControlPlane
	opts    Options
	auditor deploy.Auditor
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewProvisioner creates a domain provisioner. auditor may be nil.
func NewProvisioner(cp ControlPlane, opts Options, auditor deploy.Auditor, log *telemetry.Logger, metrics *telemetry.Metrics) *Provisioner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 30
	}
	return &Provisioner{
		cp:      cp,
		opts:    opts,
		auditor: auditor,
		log:     log.NewComponentLogger("domains"),
		metrics: metrics,
	}
}

// ProvisionProject binds the canonical hostname to every service in the
// outcome that has a service id. Services without an id (their creation
// failed) are skipped: the binding call requires the id. One hostname
// failing never blocks the others; each binding's result lands on its
// service record.
func (p *Provisioner) ProvisionProject(ctx context.Context, outcome *deploy.ProjectOutcome) {
	hostnames := Hostnames(outcome.Slug, p.opts.BaseDomain)

	for _, kind := range modules.Kinds {
		rec, ok := outcome.Services[kind]
		if !ok {
			continue
		}
		if rec.ServiceID == "" {
			p.log.Warn().
				Str("service", rec.Name).
				Msg("skipping domain binding: service was never created")
			continue
		}
		bound := p.bind(ctx, rec.ServiceID, hostnames[kind])
		rec.Domains = append(rec.Domains, bound)
	}
}

// bind requests one binding and polls its verification to a terminal state.
func (p *Provisioner) bind(ctx context.Context, serviceID, hostname string) deploy.BoundDomain {
	bound := deploy.BoundDomain{Hostname: hostname, Status: cloud.DNSStatusPending}

	dom, err := p.cp.CreateCustomDomain(ctx, serviceID, hostname)
	switch {
	case err == nil:
		bound.DomainID = dom.ID
		bound.Status = dom.Status
		p.metrics.RecordDomainBinding("created")
	case cloud.IsAlreadyExists(err):
		// The hostname was bound by an earlier run. That is success; there
		// is nothing to re-verify here.
		p.log.Info().Str("hostname", hostname).Msg("domain already bound, treating as success")
		p.metrics.RecordDomainBinding("already_exists")
		p.audit(ctx, hostname, "already bound", stores.EventLevelInfo)
		return bound
	default:
		bound.Err = &DomainError{Hostname: hostname, Err: err}
		p.log.Error().Err(err).Str("hostname", hostname).Msg("domain binding failed")
		p.metrics.RecordDomainBinding("failed")
		p.audit(ctx, hostname, "binding failed", stores.EventLevelError)
		return bound
	}

	p.audit(ctx, hostname, "bound", stores.EventLevelInfo)

	if bound.Status.Terminal() {
		p.metrics.RecordDNSVerification(string(bound.Status))
		return bound
	}

	status, err := p.pollVerification(ctx, bound.DomainID, hostname)
	bound.Status = status
	if err != nil {
		bound.Err = err
		p.metrics.RecordDNSVerification("timeout")
		p.audit(ctx, hostname, "verification timed out", stores.EventLevelWarning)
		return bound
	}
	p.metrics.RecordDNSVerification(string(status))
	if status == cloud.DNSStatusFailed {
		bound.Err = &DomainError{Hostname: hostname, Err: fmt.Errorf("dns verification failed")}
		p.audit(ctx, hostname, "verification failed", stores.EventLevelError)
	} else {
		p.audit(ctx, hostname, "verified", stores.EventLevelInfo)
	}
	return bound
}

// pollVerification polls DNS verification to a terminal state within the
// attempt budget. Exhausting the budget returns a TimeoutError; the timeout
// is reported on the binding rather than retried indefinitely.
func (p *Provisioner) pollVerification(ctx context.Context, domainID, hostname string) (cloud.DNSStatus, error) {
	start := time.Now()
	last := cloud.DNSStatusPending

	for attempt := 1; attempt <= p.opts.MaxPollAttempts; attempt++ {
		dom, err := p.cp.CustomDomain(ctx, domainID)
		if err == nil {
			last = dom.Status
			if last.Terminal() {
				return last, nil
			}
		} else {
			p.log.Warn().Err(err).Str("hostname", hostname).Int("attempt", attempt).Msg("dns verification poll failed")
		}

		select {
		case <-time.After(p.opts.PollInterval):
		case <-ctx.Done():
			return last, &cloud.TimeoutError{Operation: "dns verification for " + hostname, Attempts: attempt, Elapsed: time.Since(start)}
		}
	}

	return last, &cloud.TimeoutError{
		Operation: "dns verification for " + hostname,
		Attempts:  p.opts.MaxPollAttempts,
		Elapsed:   time.Since(start),
	}
}

// audit appends one domain event when an auditor is attached.
func (p *Provisioner) audit(ctx context.Context, hostname, detail string, level stores.EventLevel) {
	if p.auditor == nil {
		return
	}
	ev := &stores.Event{
		Type:    stores.EventTypeDomainBound,
		Source:  "domains",
		Project: hostname,
		Message: fmt.Sprintf("domain %s: %s", hostname, detail),
		Level:   level,
	}
	if err := p.auditor.AppendEvent(ctx, ev); err != nil {
		p.log.Warn().Err(err).Msg("failed to append audit event")
	}
}
