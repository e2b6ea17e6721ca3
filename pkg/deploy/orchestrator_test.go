package deploy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// fakeControlPlane is a scriptable in-memory control plane.
type fakeControlPlane struct {
	projects    map[string]*cloud.Project
	deployments map[string]*cloud.Deployment

	// failCreateService fails serviceCreate for these logical names.
	failCreateService map[string]bool

	// pollsUntilTerminal is how many polls a deployment stays in building.
	pollsUntilTerminal int

	// terminalStatus is the status deployments settle at.
	terminalStatus cloud.DeploymentStatus

	polls           map[string]int
	createdServices int
	createdProjects int
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		projects:          map[string]*cloud.Project{},
		deployments:       map[string]*cloud.Deployment{},
		failCreateService: map[string]bool{},
		terminalStatus:    cloud.DeploymentStatusSuccess,
		polls:             map[string]int{},
	}
}

func (f *fakeControlPlane) Projects(context.Context) ([]cloud.Project, error) {
	var out []cloud.Project
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeControlPlane) Project(_ context.Context, id string) (*cloud.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, &cloud.APIError{Operation: "project", Messages: []string{"project not found"}}
	}
	clone := *p
	clone.Services = append([]cloud.Service{}, p.Services...)
	return &clone, nil
}

func (f *fakeControlPlane) CreateProject(_ context.Context, name string) (*cloud.Project, error) {
	f.createdProjects++
	p := &cloud.Project{ID: fmt.Sprintf("proj-%d", f.createdProjects), Name: name}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeControlPlane) CreateService(_ context.Context, projectID, name string) (*cloud.Service, error) {
	if f.failCreateService[name] {
		return nil, &cloud.APIError{Operation: "serviceCreate", Messages: []string{"quota exceeded"}}
	}
	f.createdServices++
	svc := cloud.Service{ID: fmt.Sprintf("svc-%d", f.createdServices), ProjectID: projectID, Name: name}
	f.projects[projectID].Services = append(f.projects[projectID].Services, svc)
	return &svc, nil
}

func (f *fakeControlPlane) DeployService(_ context.Context, serviceID, _ string) (string, error) {
	id := "dep-" + serviceID
	f.deployments[id] = &cloud.Deployment{ID: id, ServiceID: serviceID, Status: cloud.DeploymentStatusQueued}
	return id, nil
}

func (f *fakeControlPlane) Deployment(_ context.Context, id string) (*cloud.Deployment, error) {
	dep, ok := f.deployments[id]
	if !ok {
		return nil, &cloud.APIError{Operation: "deployment", Messages: []string{"deployment not found"}}
	}
	f.polls[id]++
	if f.polls[id] > f.pollsUntilTerminal {
		dep.Status = f.terminalStatus
	} else {
		dep.Status = cloud.DeploymentStatusBuilding
	}
	return dep, nil
}

func (f *fakeControlPlane) DeleteProject(_ context.Context, id string) error {
	if _, ok := f.projects[id]; !ok {
		return &cloud.APIError{Operation: "projectDelete", Messages: []string{"project not found"}}
	}
	delete(f.projects, id)
	return nil
}

func newTestOrchestrator(t *testing.T, cp ControlPlane, maxPolls int) *Orchestrator {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return NewOrchestrator(cp, Options{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxPolls,
	}, nil, log, metrics)
}

func testManifest() *assembler.Manifest {
	return &assembler.Manifest{
		Project: "Cake Shop",
		Slug:    "cake-shop",
		Counts:  assembler.ServiceCounts{Frontend: 2, Backend: 1, Admin: 1},
	}
}

// TestDeployProjectAllServicesSucceed covers the happy path.
func TestDeployProjectAllServicesSucceed(t *testing.T) {
	cp := newFakeControlPlane()
	cp.pollsUntilTerminal = 2
	o := newTestOrchestrator(t, cp, 10)

	outcome, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("DeployProject failed: %v", err)
	}

	if !outcome.Succeeded() {
		t.Errorf("expected full success, failed services: %v", outcome.FailedServices())
	}
	if len(outcome.Services) != 3 {
		t.Fatalf("expected 3 service records, got %d", len(outcome.Services))
	}
	for kind, rec := range outcome.Services {
		if rec.State != ServiceStateSuccess {
			t.Errorf("service %s state = %s, want success", kind, rec.State)
		}
		if rec.ServiceID == "" || rec.DeploymentID == "" {
			t.Errorf("service %s missing ids: %+v", kind, rec)
		}
	}
}

// TestDeployProjectReusesExistingServices verifies retry does not duplicate
// cloud resources.
func TestDeployProjectReusesExistingServices(t *testing.T) {
	cp := newFakeControlPlane()
	o := newTestOrchestrator(t, cp, 10)

	first, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("first DeployProject failed: %v", err)
	}
	createdAfterFirst := cp.createdServices

	second, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("second DeployProject failed: %v", err)
	}

	if cp.createdProjects != 1 {
		t.Errorf("expected 1 cloud project, got %d", cp.createdProjects)
	}
	if cp.createdServices != createdAfterFirst {
		t.Errorf("retry created %d extra services", cp.createdServices-createdAfterFirst)
	}
	for kind := range first.Services {
		if first.Services[kind].ServiceID != second.Services[kind].ServiceID {
			t.Errorf("service %s id changed across retries", kind)
		}
	}
}

// TestDeployProjectServiceIndependence verifies one failing service leaves
// the others with their own terminal outcomes.
func TestDeployProjectServiceIndependence(t *testing.T) {
	cp := newFakeControlPlane()
	cp.failCreateService["cake-shop-backend"] = true
	o := newTestOrchestrator(t, cp, 10)

	outcome, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("DeployProject failed: %v", err)
	}

	backend := outcome.Services[modules.KindBackend]
	if backend.State != ServiceStateFailed || backend.Reason != ReasonProvisioning {
		t.Errorf("backend = %s/%s, want failed/provisioning", backend.State, backend.Reason)
	}
	var provErr *ProvisioningError
	if !errors.As(backend.Err, &provErr) {
		t.Errorf("expected *ProvisioningError on backend, got %T", backend.Err)
	}

	for _, kind := range []modules.Kind{modules.KindFrontend, modules.KindAdmin} {
		rec := outcome.Services[kind]
		if rec.State != ServiceStateSuccess {
			t.Errorf("service %s state = %s, want success despite backend failure", kind, rec.State)
		}
	}

	failed := outcome.FailedServices()
	if len(failed) != 1 || failed[0] != modules.KindBackend {
		t.Errorf("unexpected failed set: %v", failed)
	}
}

// TestDeployProjectTimeout verifies the poll bound produces failed(timeout),
// not an ambiguous in-progress record.
func TestDeployProjectTimeout(t *testing.T) {
	cp := newFakeControlPlane()
	cp.pollsUntilTerminal = 1000
	o := newTestOrchestrator(t, cp, 3)

	outcome, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("DeployProject failed: %v", err)
	}

	for kind, rec := range outcome.Services {
		if rec.State != ServiceStateFailed || rec.Reason != ReasonTimeout {
			t.Errorf("service %s = %s/%s, want failed/timeout", kind, rec.State, rec.Reason)
		}
		var timeoutErr *cloud.TimeoutError
		if !errors.As(rec.Err, &timeoutErr) {
			t.Errorf("service %s error is %T, want *cloud.TimeoutError", kind, rec.Err)
		}
	}
}

// TestDeployProjectFailedDeployment verifies provider-side failure is
// recorded per service.
func TestDeployProjectFailedDeployment(t *testing.T) {
	cp := newFakeControlPlane()
	cp.terminalStatus = cloud.DeploymentStatusFailed
	o := newTestOrchestrator(t, cp, 10)

	outcome, err := o.DeployProject(context.Background(), testManifest(), "/tmp/cake-shop")
	if err != nil {
		t.Fatalf("DeployProject failed: %v", err)
	}
	for kind, rec := range outcome.Services {
		if rec.State != ServiceStateFailed || rec.Reason != ReasonDeployment {
			t.Errorf("service %s = %s/%s, want failed/deployment", kind, rec.State, rec.Reason)
		}
		if rec.Status != cloud.DeploymentStatusFailed {
			t.Errorf("service %s status = %s, want failed", kind, rec.Status)
		}
	}
}

// TestDeleteProjectGuards verifies the protected-project checks abort before
// any mutation.
func TestDeleteProjectGuards(t *testing.T) {
	cp := newFakeControlPlane()
	target, _ := cp.CreateProject(context.Background(), "doomed")
	keep, _ := cp.CreateProject(context.Background(), "precious")
	o := newTestOrchestrator(t, cp, 10)
	ctx := context.Background()

	if err := o.DeleteProject(ctx, target.ID, ""); err == nil {
		t.Error("expected error with empty keep id")
	}
	if err := o.DeleteProject(ctx, keep.ID, keep.ID); err == nil {
		t.Error("expected error deleting the protected project")
	}
	if _, ok := cp.projects[keep.ID]; !ok {
		t.Fatal("protected project was deleted")
	}

	if err := o.DeleteProject(ctx, target.ID, keep.ID); err != nil {
		t.Fatalf("legitimate delete failed: %v", err)
	}
	if _, ok := cp.projects[target.ID]; ok {
		t.Error("target project still present after delete")
	}
}

// TestDeleteProjectMissingTarget verifies pre-delete verification fails loud.
func TestDeleteProjectMissingTarget(t *testing.T) {
	cp := newFakeControlPlane()
	keep, _ := cp.CreateProject(context.Background(), "precious")
	o := newTestOrchestrator(t, cp, 10)

	if err := o.DeleteProject(context.Background(), "no-such-id", keep.ID); err == nil {
		t.Error("expected error for missing target project")
	}
}
