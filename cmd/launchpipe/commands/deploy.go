package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/deploy"
	"github.com/launchpipe/launchpipe/pkg/domains"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/slug"
	"github.com/launchpipe/launchpipe/pkg/stores"
)

func newDeployCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an assembled project to the cloud",
		Long: `Deploy a previously assembled project.

This command:
  - Loads the project's manifest from the output directory
  - Ensures the cloud project and its services exist (reusing existing ones)
  - Triggers a deployment per service and polls to a terminal status
  - Binds each service's canonical custom domain and verifies DNS
  - Updates the project record

Services fail independently; the command reports every service's outcome
and exits non-zero when any of them did not succeed.`,
		Example: `  # Deploy an assembled project
  launchpipe deploy --project "Cristy's Cake Shop"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			slugName := slug.Normalize(projectName)
			treePath := filepath.Join(rt.cfg.OutputDir, slugName)
			manifest, err := assembler.LoadManifest(treePath)
			if err != nil {
				return fmt.Errorf("no assembled tree for %q: %w", projectName, err)
			}

			run := rt.startRun(ctx, "deploy", slugName)
			outcome, err := runDeploy(ctx, rt, manifest, treePath)
			rt.finishRun(ctx, run, err)

			// The outcome is reported even on partial failure: which
			// services made it and which domains verified is exactly what
			// the operator needs before retrying.
			if outcome != nil {
				if printErr := printOutcome(nil, outcome); printErr != nil && err == nil {
					err = printErr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "project name or slug")
	cmd.MarkFlagRequired("project")

	return cmd
}

// runDeploy walks a project through deployment and domain provisioning and
// updates its record. The returned error is non-nil when any service failed;
// the outcome still covers every service.
func runDeploy(ctx context.Context, rt *runtime, manifest *assembler.Manifest, treePath string) (*deploy.ProjectOutcome, error) {
	client, err := rt.cloudClient()
	if err != nil {
		return nil, err
	}

	orch := deploy.NewOrchestrator(client, deploy.Options{
		PollInterval:    rt.cfg.Deploy.PollInterval,
		MaxPollAttempts: rt.cfg.Deploy.MaxPollAttempts,
	}, rt.store, rt.log, rt.metrics)

	outcome, err := orch.DeployProject(ctx, manifest, treePath)
	if err != nil {
		markProject(ctx, rt, manifest.Slug, stores.ProjectStatusFailed)
		return nil, err
	}

	prov := domains.NewProvisioner(client, domains.Options{
		BaseDomain:      rt.cfg.BaseDomain,
		PollInterval:    rt.cfg.Domains.PollInterval,
		MaxPollAttempts: rt.cfg.Domains.MaxPollAttempts,
	}, rt.store, rt.log, rt.metrics)
	prov.ProvisionProject(ctx, outcome)

	if !outcome.Succeeded() {
		markProject(ctx, rt, manifest.Slug, stores.ProjectStatusFailed)
		return outcome, fmt.Errorf("deployment incomplete for %s: failed services %v", manifest.Slug, outcome.FailedServices())
	}
	markProject(ctx, rt, manifest.Slug, stores.ProjectStatusDeployed)
	return outcome, nil
}

// markProject updates the record status; a missing record is only logged,
// deployments of never-recorded trees still proceed.
func markProject(ctx context.Context, rt *runtime, slugName string, status stores.ProjectStatus) {
	if err := rt.store.UpdateProjectStatus(ctx, slugName, status); err != nil {
		rt.log.Warn().Err(err).Str("project", slugName).Msg("failed to update project status")
	}
}

// printOutcome renders an assembly result and/or deployment outcome.
func printOutcome(result *assembler.Result, outcome *deploy.ProjectOutcome) error {
	if jsonOutput {
		return printJSON(map[string]any{
			"assembly":   result,
			"deployment": outcome,
		})
	}

	if result != nil {
		m := result.Manifest
		fmt.Printf("Assembled %s (%s) at %s\n", m.Project, m.Slug, result.Path)
		fmt.Printf("  modules: %d frontend, %d backend, %d admin\n",
			m.Counts.Frontend, m.Counts.Backend, m.Counts.Admin)
	}
	if outcome != nil {
		fmt.Printf("Deployment of %s (project %s):\n", outcome.Slug, outcome.ProjectID)
		for _, kind := range modules.Kinds {
			rec, ok := outcome.Services[kind]
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-8s %-9s", rec.Kind, rec.State)
			if rec.State == deploy.ServiceStateFailed {
				line += fmt.Sprintf(" reason=%s err=%v", rec.Reason, rec.Err)
			}
			fmt.Println(line)
			for _, d := range rec.Domains {
				if d.Err != nil {
					fmt.Printf("    domain %-40s error: %v\n", d.Hostname, d.Err)
				} else {
					fmt.Printf("    domain %-40s %s\n", d.Hostname, d.Status)
				}
			}
		}
	}
	return nil
}
