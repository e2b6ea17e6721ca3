package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/config"
)

// fakeControlPlaneServer scripts the GraphQL control plane for command
// tests. Service creation fails for names carrying a configured suffix so
// partial deployments can be exercised end to end.
type fakeControlPlaneServer struct {
	failServiceSuffix string

	project  map[string]any
	services []map[string]any
}

func (f *fakeControlPlaneServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		respond := func(data map[string]any) {
			json.NewEncoder(w).Encode(map[string]any{"data": data})
		}
		fail := func(msg string) {
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{{"message": msg}},
			})
		}

		q := req.Query
		switch {
		case strings.Contains(q, "projectCreate"):
			f.project = map[string]any{
				"id":   "prj_1",
				"name": req.Variables["name"],
			}
			respond(map[string]any{"projectCreate": f.project})

		case strings.Contains(q, "serviceCreate"):
			name := req.Variables["name"].(string)
			if f.failServiceSuffix != "" && strings.HasSuffix(name, f.failServiceSuffix) {
				fail("service quota exceeded")
				return
			}
			svc := map[string]any{
				"id":        "svc_" + name,
				"projectId": req.Variables["projectId"],
				"name":      name,
			}
			f.services = append(f.services, svc)
			respond(map[string]any{"serviceCreate": svc})

		case strings.Contains(q, "serviceInstanceDeploy"):
			serviceID := req.Variables["serviceId"].(string)
			respond(map[string]any{"serviceInstanceDeploy": map[string]any{
				"id":        "dep_" + serviceID,
				"serviceId": serviceID,
				"status":    string(cloud.DeploymentStatusQueued),
			}})

		case strings.Contains(q, "customDomainCreate"):
			respond(map[string]any{"customDomainCreate": map[string]any{
				"id":        "dom_" + req.Variables["serviceId"].(string),
				"serviceId": req.Variables["serviceId"],
				"domain":    req.Variables["domain"],
				"status":    string(cloud.DNSStatusPending),
			}})

		case strings.Contains(q, "customDomain(id"):
			respond(map[string]any{"customDomain": map[string]any{
				"id":     req.Variables["id"],
				"status": string(cloud.DNSStatusVerified),
			}})

		case strings.Contains(q, "deployment(id"):
			id := req.Variables["id"].(string)
			respond(map[string]any{"deployment": map[string]any{
				"id":        id,
				"serviceId": strings.TrimPrefix(id, "dep_"),
				"status":    string(cloud.DeploymentStatusSuccess),
			}})

		case strings.Contains(q, "projects"):
			var list []map[string]any
			if f.project != nil {
				p := map[string]any{
					"id":       f.project["id"],
					"name":     f.project["name"],
					"services": f.services,
				}
				list = append(list, p)
			}
			respond(map[string]any{"projects": list})

		case strings.Contains(q, "project(id"):
			respond(map[string]any{"project": map[string]any{
				"id":       f.project["id"],
				"name":     f.project["name"],
				"services": f.services,
			}})

		default:
			fail("unhandled operation in test server")
		}
	}
}

// writeTestConfig writes a minimal valid config pointing at the fake
// control plane. Durations are short enough that poll loops finish
// instantly.
func writeTestConfig(t *testing.T, dir, endpoint string) string {
	t.Helper()
	cfg := fmt.Sprintf(`base_domain: sites.example.com
output_dir: %s
registry_dir: %s
github_org: launchpipe-sites
cloud:
  endpoint: %s
deploy:
  poll_interval: 1ms
  max_poll_attempts: 5
domains:
  poll_interval: 1ms
  max_poll_attempts: 5
store:
  path: %s
logging:
  level: error
`, filepath.Join(dir, "out"), dir, endpoint, filepath.Join(dir, "launchpipe.db"))

	path := filepath.Join(dir, "launchpipe.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// captureStdout runs fn with stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestDeployCommandReportsPartialFailure(t *testing.T) {
	fake := &fakeControlPlaneServer{failServiceSuffix: "-backend"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, srv.URL)
	t.Setenv(config.EnvCloudToken, "test-token")

	treePath := filepath.Join(dir, "out", "cake-shop")
	if err := os.MkdirAll(treePath, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := &assembler.Manifest{
		Project:          "Cake Shop",
		Slug:             "cake-shop",
		Generator:        "launchpipe",
		GeneratorVersion: "test",
		Counts:           assembler.ServiceCounts{Frontend: 1, Backend: 1},
	}
	if err := manifest.WriteTo(treePath); err != nil {
		t.Fatal(err)
	}

	root := newRootCommand("test", "none", "none")
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetArgs([]string{"deploy", "--project", "Cake Shop", "--config", cfgPath})

	var runErr error
	out := captureStdout(t, func() {
		runErr = root.ExecuteContext(context.Background())
	})

	if runErr == nil {
		t.Fatal("expected a non-nil error for the failed backend service")
	}
	if !strings.Contains(runErr.Error(), "backend") {
		t.Errorf("error should name the failed service: %v", runErr)
	}

	// The per-service report must survive the failure: the operator needs
	// to see what did succeed before retrying.
	if !strings.Contains(out, "frontend") || !strings.Contains(out, "success") {
		t.Errorf("successful frontend missing from output:\n%s", out)
	}
	if !strings.Contains(out, "cake-shop.sites.example.com") {
		t.Errorf("bound frontend domain missing from output:\n%s", out)
	}
	if !strings.Contains(out, "verified") {
		t.Errorf("DNS verification state missing from output:\n%s", out)
	}
	if !strings.Contains(out, "failed") || !strings.Contains(out, "quota") {
		t.Errorf("failed backend with its reason missing from output:\n%s", out)
	}
}
