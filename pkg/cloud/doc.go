// Package cloud is the client for the provider's GraphQL control plane.
//
// The API is a GraphQL-style surface keyed by opaque string ids: project,
// service, serviceInstance, customDomainCreate, projectDelete. Responses may
// carry a top-level errors array that must be checked before data is
// trusted; an HTTP 200 does not mean success. All requests share one
// process-wide rate limiter because the provider limits globally, not
// per-project.
package cloud
