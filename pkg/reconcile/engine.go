package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/launchpipe/launchpipe/pkg/slug"
	"github.com/launchpipe/launchpipe/pkg/stores"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// Store is the slice of the control-plane store the engine needs.
// *stores.SQLiteStore satisfies it.
type Store interface {
	ListProjectRecords(ctx context.Context) ([]*stores.ProjectRecord, error)
	CreateProjectRecord(ctx context.Context, rec *stores.ProjectRecord) error
	UpdateProjectRecord(ctx context.Context, rec *stores.ProjectRecord) error
	AppendEvent(ctx context.Context, ev *stores.Event) error
}

// Options configures the reconciliation engine.
type Options struct {
	// BaseDomain and GithubOrg feed URL derivation for records that need
	// backfilling.
	BaseDomain string
	GithubOrg  string

	// MinSharedTokens and MinTokenLength tune the fuzzy matcher.
	MinSharedTokens int
	MinTokenLength  int
}

// Engine folds reconciliation sources into the project record table,
// idempotently and without ever duplicating a project.
type Engine struct {
	store   Store
	matcher *Matcher
	opts    Options
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewEngine creates a reconciliation engine.
func NewEngine(store Store, opts Options, log *telemetry.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		store:   store,
		matcher: NewMatcher(opts.MinSharedTokens, opts.MinTokenLength),
		opts:    opts,
		log:     log.NewComponentLogger("reconcile"),
		metrics: metrics,
	}
}

// Run reconciles the given source records against the store. When dryRun is
// set, decisions are computed and reported but nothing is written. Running
// twice over unchanged inputs yields zero additional inserts or updates;
// drift-healing that caused drift would defeat the component's purpose.
func (e *Engine) Run(ctx context.Context, sources []SourceRecord, dryRun bool) (*Summary, error) {
	e.metrics.RecordReconcileRun()

	records, err := e.store.ListProjectRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load project records: %w", err)
	}

	summary := &Summary{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		decision := e.reconcileOne(ctx, src, &records, dryRun)
		summary.record(decision)
		e.metrics.RecordReconcileDecision(string(decision.Kind))
		e.logDecision(ctx, decision, dryRun)
	}

	e.log.Info().
		Str("summary", summary.String()).
		Bool("dry_run", dryRun).
		Msg("reconciliation finished")
	return summary, nil
}

// reconcileOne applies the match-then-upsert algorithm to one candidate.
// records is kept current with inserts so later candidates in the same run
// match rows inserted earlier instead of duplicating them.
func (e *Engine) reconcileOne(ctx context.Context, src SourceRecord, records *[]*stores.ProjectRecord, dryRun bool) Decision {
	normalized := slug.Normalize(src.Name)
	d := Decision{Candidate: src.Name, Normalized: normalized}

	if normalized == "" {
		d.Kind = DecisionSkipped
		d.Detail = "name normalizes to an empty slug; unmatchable"
		return d
	}

	matched, pass, err := e.matcher.Match(normalized, *records)
	var ambiguity *AmbiguityError
	if errors.As(err, &ambiguity) {
		d.Kind = DecisionAmbiguous
		d.Detail = ambiguity.Error()
		return d
	}

	if matched != nil {
		d.MatchedName = matched.NormalizedName
		d.Pass = pass
		changed, updateErr := e.updateRecord(ctx, matched, src, dryRun)
		switch {
		case updateErr != nil:
			d.Kind = DecisionErrored
			d.Detail = updateErr.Error()
		case changed:
			d.Kind = DecisionUpdated
			d.Detail = fmt.Sprintf("matched via %s pass, derived fields refreshed", pass)
		default:
			d.Kind = DecisionMatched
			d.Detail = fmt.Sprintf("matched via %s pass, already consistent", pass)
		}
		return d
	}

	rec, insertErr := e.insertRecord(ctx, normalized, src, dryRun)
	switch {
	case errors.Is(insertErr, stores.ErrDuplicateProject):
		// A concurrent pass inserted this project between our listing and
		// our insert. The uniqueness constraint held; nothing to do.
		d.Kind = DecisionMatched
		d.MatchedName = normalized
		d.Detail = "inserted concurrently by another pass"
	case insertErr != nil:
		d.Kind = DecisionErrored
		d.Detail = insertErr.Error()
	default:
		d.Kind = DecisionInserted
		d.Detail = "no match after exact, substring, and token passes"
		// The in-memory slice tracks dry-run inserts too, so a preview of
		// several candidates for the same project reports the same decision
		// sequence a real run would.
		*records = append(*records, rec)
		sort.Slice(*records, func(i, j int) bool {
			return (*records)[i].NormalizedName < (*records)[j].NormalizedName
		})
	}
	return d
}

// updateRecord refreshes a matched record's derived fields from the source.
// Only genuinely missing fields are filled; a record that is already
// consistent is left untouched so repeat runs write nothing.
func (e *Engine) updateRecord(ctx context.Context, rec *stores.ProjectRecord, src SourceRecord, dryRun bool) (bool, error) {
	derived := DeriveURLs(rec.NormalizedName, e.opts.BaseDomain, e.opts.GithubOrg)

	updated := *rec
	fill(&updated.Domain, derived.Domain)
	fill(&updated.FrontendURL, src.FrontendURL, derived.FrontendURL)
	fill(&updated.AdminURL, src.AdminURL, derived.AdminURL)
	fill(&updated.BackendURL, derived.BackendURL)
	fill(&updated.GithubFrontend, derived.GithubFrontend)
	fill(&updated.GithubBackend, derived.GithubBackend)
	fill(&updated.GithubAdmin, derived.GithubAdmin)
	fill(&updated.Industry, src.Industry)

	merged, err := mergeMetadata(rec.Metadata, src)
	if err != nil {
		return false, err
	}
	updated.Metadata = merged

	if updated.Domain == rec.Domain &&
		updated.FrontendURL == rec.FrontendURL &&
		updated.AdminURL == rec.AdminURL &&
		updated.BackendURL == rec.BackendURL &&
		updated.GithubFrontend == rec.GithubFrontend &&
		updated.GithubBackend == rec.GithubBackend &&
		updated.GithubAdmin == rec.GithubAdmin &&
		updated.Industry == rec.Industry &&
		updated.Metadata == rec.Metadata {
		return false, nil
	}

	if dryRun {
		return true, nil
	}
	if err := e.store.UpdateProjectRecord(ctx, &updated); err != nil {
		return false, err
	}
	*rec = updated
	return true, nil
}

// insertRecord creates a new project record with deterministically derived
// URLs, so backfilled rows agree exactly with what a live deployment would
// have produced.
func (e *Engine) insertRecord(ctx context.Context, normalized string, src SourceRecord, dryRun bool) (*stores.ProjectRecord, error) {
	derived := DeriveURLs(normalized, e.opts.BaseDomain, e.opts.GithubOrg)

	status := stores.ProjectStatusCompleted
	if src.FrontendURL != "" {
		// The source knows a live URL, so the project is already deployed.
		status = stores.ProjectStatusDeployed
	}

	metadata, err := mergeMetadata("", src)
	if err != nil {
		return nil, err
	}

	rec := &stores.ProjectRecord{
		Name:           src.Name,
		NormalizedName: normalized,
		Industry:       src.Industry,
		Status:         status,
		Domain:         derived.Domain,
		FrontendURL:    firstNonEmpty(src.FrontendURL, derived.FrontendURL),
		AdminURL:       firstNonEmpty(src.AdminURL, derived.AdminURL),
		BackendURL:     derived.BackendURL,
		GithubFrontend: derived.GithubFrontend,
		GithubBackend:  derived.GithubBackend,
		GithubAdmin:    derived.GithubAdmin,
		Metadata:       metadata,
	}

	if dryRun {
		return rec, nil
	}
	if err := e.store.CreateProjectRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// mergeMetadata folds source metadata and provenance into an existing
// metadata blob. Keys already present win: reconciliation fills gaps, it
// does not overwrite what generation recorded. json.Marshal sorts map keys,
// so equal inputs produce equal blobs and repeat merges are no-ops.
func mergeMetadata(existing string, src SourceRecord) (string, error) {
	meta := map[string]any{}
	if existing != "" && existing != "{}" {
		if err := json.Unmarshal([]byte(existing), &meta); err != nil {
			return "", fmt.Errorf("corrupt metadata blob: %w", err)
		}
	}
	for k, v := range src.Metadata {
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}
	if src.Provenance != "" {
		if _, ok := meta["provenance"]; !ok {
			meta["provenance"] = src.Provenance
		}
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(out), nil
}

// logDecision writes the decision to the log and, outside dry runs, the
// append-only audit table.
func (e *Engine) logDecision(ctx context.Context, d Decision, dryRun bool) {
	ev := e.log.Info()
	level := stores.EventLevelInfo
	eventType := stores.EventTypeReconcileMatched

	switch d.Kind {
	case DecisionInserted:
		eventType = stores.EventTypeReconcileInserted
	case DecisionSkipped:
		eventType = stores.EventTypeReconcileSkipped
		ev = e.log.Warn()
		level = stores.EventLevelWarning
	case DecisionAmbiguous:
		eventType = stores.EventTypeReconcileAmbiguous
		ev = e.log.Warn()
		level = stores.EventLevelWarning
	case DecisionErrored:
		eventType = stores.EventTypeReconcileSkipped
		ev = e.log.Error()
		level = stores.EventLevelError
	}

	ev.Str("candidate", d.Candidate).
		Str("normalized", d.Normalized).
		Str("matched", d.MatchedName).
		Str("pass", string(d.Pass)).
		Str("kind", string(d.Kind)).
		Str("detail", d.Detail).
		Msg("reconcile decision")

	if dryRun {
		return
	}
	auditEv := &stores.Event{
		Type:    eventType,
		Source:  "reconcile",
		Project: d.Normalized,
		Message: fmt.Sprintf("%s: candidate %q (normalized %q) matched=%q pass=%s %s", d.Kind, d.Candidate, d.Normalized, d.MatchedName, d.Pass, d.Detail),
		Level:   level,
	}
	if err := e.store.AppendEvent(ctx, auditEv); err != nil {
		e.log.Warn().Err(err).Msg("failed to append audit event")
	}
}

// fill sets dst to the first non-empty candidate if dst is empty.
func fill(dst *string, candidates ...string) {
	if *dst != "" {
		return
	}
	for _, c := range candidates {
		if c != "" {
			*dst = c
			return
		}
	}
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
