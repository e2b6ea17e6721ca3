package reconcile

import (
	"fmt"
)

// DerivedURLs are the URLs a project gets from its normalized name alone.
// They match exactly what the domain provisioner requests, so records
// backfilled here agree with records produced by a live deployment.
type DerivedURLs struct {
	Domain         string
	FrontendURL    string
	AdminURL       string
	BackendURL     string
	GithubFrontend string
	GithubBackend  string
	GithubAdmin    string
}

// DeriveURLs computes the canonical URL set for a normalized project name.
func DeriveURLs(normalized, baseDomain, githubOrg string) DerivedURLs {
	domain := fmt.Sprintf("%s.%s", normalized, baseDomain)
	return DerivedURLs{
		Domain:         domain,
		FrontendURL:    "https://" + domain,
		AdminURL:       fmt.Sprintf("https://admin.%s.%s", normalized, baseDomain),
		BackendURL:     fmt.Sprintf("https://api.%s.%s", normalized, baseDomain),
		GithubFrontend: fmt.Sprintf("https://github.com/%s/%s-frontend", githubOrg, normalized),
		GithubBackend:  fmt.Sprintf("https://github.com/%s/%s-backend", githubOrg, normalized),
		GithubAdmin:    fmt.Sprintf("https://github.com/%s/%s-admin", githubOrg, normalized),
	}
}
