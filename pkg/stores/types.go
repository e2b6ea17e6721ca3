package stores

import (
	"time"
)

// ProjectStatus represents the lifecycle status of a project record.
type ProjectStatus string

const (
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusDeployed   ProjectStatus = "deployed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// ProjectRecord is the durable control-plane projection of a project. There
// is exactly one record per distinct normalized project name; the
// normalized_name column carries a UNIQUE constraint so concurrent
// reconciliation passes cannot both insert one.
type ProjectRecord struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	NormalizedName string        `json:"normalized_name"`
	Industry       string        `json:"industry"`
	Status         ProjectStatus `json:"status"`
	Domain         string        `json:"domain"`
	FrontendURL    string        `json:"frontend_url"`
	AdminURL       string        `json:"admin_url"`
	BackendURL     string        `json:"backend_url"`
	GithubFrontend string        `json:"github_frontend"`
	GithubBackend  string        `json:"github_backend"`
	GithubAdmin    string        `json:"github_admin"`
	Metadata       string        `json:"metadata"` // JSON blob
	CreatedAt      time.Time     `json:"created_at"`
	DeployedAt     *time.Time    `json:"deployed_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Run records one pipeline invocation (generate, deploy, reconcile) for
// operator audit.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"` // generate, deploy, domains, reconcile
	Project     string     `json:"project"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is one append-only audit record. Reconciliation decisions and
// service state transitions land here so fuzzy matches stay reviewable
// after the fact.
type Event struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	Project   string     `json:"project,omitempty"`
	Message   string     `json:"message"`
	Level     EventLevel `json:"level"`
	Data      string     `json:"data,omitempty"` // JSON blob
}

// Event type constants for the audit log.
const (
	EventTypeReconcileMatched   = "reconcile.matched"
	EventTypeReconcileInserted  = "reconcile.inserted"
	EventTypeReconcileSkipped   = "reconcile.skipped"
	EventTypeReconcileAmbiguous = "reconcile.ambiguous"
	EventTypeServiceTransition  = "service.transition"
	EventTypeDomainBound        = "domain.bound"
	EventTypeProjectDeleted     = "project.deleted"
)
