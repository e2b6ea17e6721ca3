package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// Options configures the control-plane client.
type Options struct {
	// Endpoint is the GraphQL endpoint URL.
	Endpoint string

	// Token is the bearer token for the control plane.
	Token string

	// RateLimit and RateBurst configure the shared request limiter. The
	// control plane rate-limits globally, so every call from this process
	// goes through one limiter regardless of project or service.
	RateLimit float64
	RateBurst int

	// RequestTimeout bounds a single round trip.
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is the cloud control-plane API client. All provider mutations in
// the pipeline go through it.
type Client struct {
	endpoint string
	token    string
	httpc    *http.Client
	limiter  *rate.Limiter
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewClient creates a control-plane client.
func NewClient(opts Options, log *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		timeout := opts.RequestTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpc = &http.Client{Timeout: timeout}
	}

	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		endpoint: opts.Endpoint,
		token:    opts.Token,
		httpc:    httpc,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.NewComponentLogger("cloud"),
		metrics:  metrics,
	}
}

// graphqlRequest is the wire shape of a GraphQL POST.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlError is one entry of the top-level errors array.
type graphqlError struct {
	Message string `json:"message"`
}

// graphqlResponse is the wire shape of a GraphQL response.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// do executes one GraphQL operation through the shared limiter and decodes
// data into out. The errors array is checked before data is trusted.
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.metrics.RecordAPICall(operation, "transport_error", time.Since(start))
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordAPICall(operation, "http_error", time.Since(start))
		return fmt.Errorf("%s returned HTTP %d", operation, resp.StatusCode)
	}

	var decoded graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.metrics.RecordAPICall(operation, "decode_error", time.Since(start))
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}

	if len(decoded.Errors) > 0 {
		messages := make([]string, len(decoded.Errors))
		for i, e := range decoded.Errors {
			messages[i] = e.Message
		}
		c.metrics.RecordAPICall(operation, "api_error", time.Since(start))
		c.log.Warn().Str("operation", operation).Strs("errors", messages).Msg("control plane returned errors")
		return &APIError{Operation: operation, Messages: messages}
	}

	c.metrics.RecordAPICall(operation, "ok", time.Since(start))

	if out != nil {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", operation, err)
		}
	}
	return nil
}

// Projects lists all projects visible to the token.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	const query = `
		query {
			projects {
				id
				name
				createdAt
				services { id projectId name }
			}
		}`

	var out struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, "projects", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// Project fetches one project with its services.
func (c *Client) Project(ctx context.Context, id string) (*Project, error) {
	const query = `
		query($id: String!) {
			project(id: $id) {
				id
				name
				createdAt
				services { id projectId name }
			}
		}`

	var out struct {
		Project *Project `json:"project"`
	}
	if err := c.do(ctx, "project", query, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.Project == nil {
		return nil, &APIError{Operation: "project", Messages: []string{fmt.Sprintf("project %s not found", id)}}
	}
	return out.Project, nil
}

// CreateProject creates a new project container.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	const query = `
		mutation($name: String!) {
			projectCreate(input: { name: $name }) {
				id
				name
				createdAt
			}
		}`

	var out struct {
		ProjectCreate *Project `json:"projectCreate"`
	}
	if err := c.do(ctx, "projectCreate", query, map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	return out.ProjectCreate, nil
}

// CreateService creates a service inside a project.
func (c *Client) CreateService(ctx context.Context, projectID, name string) (*Service, error) {
	const query = `
		mutation($projectId: String!, $name: String!) {
			serviceCreate(input: { projectId: $projectId, name: $name }) {
				id
				projectId
				name
			}
		}`

	var out struct {
		ServiceCreate *Service `json:"serviceCreate"`
	}
	vars := map[string]any{"projectId": projectID, "name": name}
	if err := c.do(ctx, "serviceCreate", query, vars, &out); err != nil {
		return nil, err
	}
	return out.ServiceCreate, nil
}

// DeployService pushes the assembled source and triggers a deployment,
// returning the deployment id to poll.
func (c *Client) DeployService(ctx context.Context, serviceID, source string) (string, error) {
	const query = `
		mutation($serviceId: String!, $source: String!) {
			serviceInstanceDeploy(input: { serviceId: $serviceId, source: $source }) {
				id
				serviceId
				status
			}
		}`

	var out struct {
		ServiceInstanceDeploy *Deployment `json:"serviceInstanceDeploy"`
	}
	vars := map[string]any{"serviceId": serviceID, "source": source}
	if err := c.do(ctx, "serviceInstanceDeploy", query, vars, &out); err != nil {
		return "", err
	}
	return out.ServiceInstanceDeploy.ID, nil
}

// Deployment fetches the current status of a deployment.
func (c *Client) Deployment(ctx context.Context, id string) (*Deployment, error) {
	const query = `
		query($id: String!) {
			deployment(id: $id) {
				id
				serviceId
				status
				createdAt
			}
		}`

	var out struct {
		Deployment *Deployment `json:"deployment"`
	}
	if err := c.do(ctx, "deployment", query, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.Deployment == nil {
		return nil, &APIError{Operation: "deployment", Messages: []string{fmt.Sprintf("deployment %s not found", id)}}
	}
	return out.Deployment, nil
}

// CreateCustomDomain binds a hostname to a service.
func (c *Client) CreateCustomDomain(ctx context.Context, serviceID, domain string) (*CustomDomain, error) {
	const query = `
		mutation($serviceId: String!, $domain: String!) {
			customDomainCreate(input: { serviceId: $serviceId, domain: $domain }) {
				id
				serviceId
				domain
				status
			}
		}`

	var out struct {
		CustomDomainCreate *CustomDomain `json:"customDomainCreate"`
	}
	vars := map[string]any{"serviceId": serviceID, "domain": domain}
	if err := c.do(ctx, "customDomainCreate", query, vars, &out); err != nil {
		return nil, err
	}
	return out.CustomDomainCreate, nil
}

// CustomDomain fetches a domain binding's DNS verification state.
func (c *Client) CustomDomain(ctx context.Context, id string) (*CustomDomain, error) {
	const query = `
		query($id: String!) {
			customDomain(id: $id) {
				id
				serviceId
				domain
				status
			}
		}`

	var out struct {
		CustomDomain *CustomDomain `json:"customDomain"`
	}
	if err := c.do(ctx, "customDomain", query, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.CustomDomain == nil {
		return nil, &APIError{Operation: "customDomain", Messages: []string{fmt.Sprintf("custom domain %s not found", id)}}
	}
	return out.CustomDomain, nil
}

// DeleteProject deletes a project and everything in it. Irreversible; the
// deployment orchestrator's guarded delete is the only caller.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	const query = `
		mutation($id: String!) {
			projectDelete(id: $id)
		}`

	return c.do(ctx, "projectDelete", query, map[string]any{"id": id}, nil)
}
