package cloud

import "time"

// DeploymentStatus is the provider-side status of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusQueued   DeploymentStatus = "queued"
	DeploymentStatusBuilding DeploymentStatus = "building"
	DeploymentStatusSuccess  DeploymentStatus = "success"
	DeploymentStatusFailed   DeploymentStatus = "failed"
)

// Terminal reports whether the status is terminal.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentStatusSuccess || s == DeploymentStatusFailed
}

// DNSStatus is the verification state of a custom domain binding.
type DNSStatus string

const (
	DNSStatusPending  DNSStatus = "pending"
	DNSStatusVerified DNSStatus = "verified"
	DNSStatusFailed   DNSStatus = "failed"
)

// Terminal reports whether the status is terminal.
func (s DNSStatus) Terminal() bool {
	return s == DNSStatusVerified || s == DNSStatusFailed
}

// Project is a cloud-provider project, the container for a customer's
// services.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Services  []Service `json:"services"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service is one deployable unit (frontend, backend, or admin) inside a
// project.
type Service struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// Deployment is one deployment of a service.
type Deployment struct {
	ID        string           `json:"id"`
	ServiceID string           `json:"serviceId"`
	Status    DeploymentStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// CustomDomain is a custom-domain binding on a service.
type CustomDomain struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"serviceId"`
	Domain    string    `json:"domain"`
	Status    DNSStatus `json:"status"`
}
