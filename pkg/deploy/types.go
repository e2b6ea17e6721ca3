package deploy

import (
	"context"
	"fmt"

	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/stores"
)

// ServiceState is the orchestrator-side state of one service.
// The machine is absent -> creating -> deploying -> success | failed.
type ServiceState string

const (
	ServiceStateAbsent    ServiceState = "absent"
	ServiceStateCreating  ServiceState = "creating"
	ServiceStateDeploying ServiceState = "deploying"
	ServiceStateSuccess   ServiceState = "success"
	ServiceStateFailed    ServiceState = "failed"
)

// Failure reasons recorded on failed service records.
const (
	ReasonProvisioning = "provisioning"
	ReasonDeployment   = "deployment"
	ReasonTimeout      = "timeout"
)

// ServiceRecord tracks one service (frontend, backend, or admin) of a
// project through deployment and domain binding. It is the only place
// cloud-side state is mutated from.
type ServiceRecord struct {
	// Kind is the service kind.
	Kind modules.Kind `json:"kind"`

	// Name is the logical service name on the provider, derived from the
	// project slug. Reused on retry so no duplicate service is created.
	Name string `json:"name"`

	// ServiceID is the provider-side service id, once known.
	ServiceID string `json:"service_id,omitempty"`

	// DeploymentID is the latest deployment id, once triggered.
	DeploymentID string `json:"deployment_id,omitempty"`

	// State is the orchestrator state.
	State ServiceState `json:"state"`

	// Status is the provider-reported status of the latest deployment.
	Status cloud.DeploymentStatus `json:"status,omitempty"`

	// Reason classifies a failure (provisioning, deployment, timeout).
	Reason string `json:"reason,omitempty"`

	// Err is the error that failed this service, if any.
	Err error `json:"-"`

	// Domains are the custom domains bound to this service.
	Domains []BoundDomain `json:"domains,omitempty"`
}

// BoundDomain is one custom-domain binding with its verification outcome.
type BoundDomain struct {
	// Hostname is the bound hostname.
	Hostname string `json:"hostname"`

	// DomainID is the provider-side binding id.
	DomainID string `json:"domain_id,omitempty"`

	// Status is the DNS verification status.
	Status cloud.DNSStatus `json:"status"`

	// Err is a binding or verification error, if any.
	Err error `json:"-"`
}

// ProjectOutcome is the per-service result map of one orchestration pass.
// One service failing never hides the others: every attempted service is
// present with its own terminal state.
type ProjectOutcome struct {
	// ProjectID is the provider-side project id.
	ProjectID string `json:"project_id"`

	// Slug is the normalized project name.
	Slug string `json:"slug"`

	// Services maps service kind to its record.
	Services map[modules.Kind]*ServiceRecord `json:"services"`
}

// Succeeded reports whether every attempted service reached success.
func (o *ProjectOutcome) Succeeded() bool {
	if len(o.Services) == 0 {
		return false
	}
	for _, rec := range o.Services {
		if rec.State != ServiceStateSuccess {
			return false
		}
	}
	return true
}

// FailedServices returns the kinds that did not reach success, in canonical
// order.
func (o *ProjectOutcome) FailedServices() []modules.Kind {
	var failed []modules.Kind
	for _, kind := range modules.Kinds {
		if rec, ok := o.Services[kind]; ok && rec.State != ServiceStateSuccess {
			failed = append(failed, kind)
		}
	}
	return failed
}

// ProvisioningError reports a control-plane failure for one service. It is
// recorded on that service's record and never aborts sibling services.
type ProvisioningError struct {
	// Service is the logical service name.
	Service string

	// Err is the control-plane error.
	Err error
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed for service %s: %v", e.Service, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// ControlPlane is the slice of the cloud API the orchestrator needs.
// *cloud.Client satisfies it; tests substitute fakes.
type ControlPlane interface {
	Projects(ctx context.Context) ([]cloud.Project, error)
	Project(ctx context.Context, id string) (*cloud.Project, error)
	CreateProject(ctx context.Context, name string) (*cloud.Project, error)
	CreateService(ctx context.Context, projectID, name string) (*cloud.Service, error)
	DeployService(ctx context.Context, serviceID, source string) (string, error)
	Deployment(ctx context.Context, id string) (*cloud.Deployment, error)
	DeleteProject(ctx context.Context, id string) error
}

// Auditor receives append-only audit events. *stores.SQLiteStore satisfies
// it; a nil auditor disables auditing.
type Auditor interface {
	AppendEvent(ctx context.Context, ev *stores.Event) error
}
