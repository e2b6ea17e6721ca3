package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/deploy"
	"github.com/launchpipe/launchpipe/pkg/domains"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/slug"
)

func newDomainsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Manage custom domains for deployed projects",
	}
	cmd.AddCommand(newDomainsAddCommand())
	return cmd
}

func newDomainsAddCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Bind the canonical domains to a project's services",
		Long: `Bind the canonical custom domain to every existing service of a
deployed project and poll DNS verification.

Binding is idempotent: a domain that is already bound counts as success,
so rerunning after a partial failure only finishes what is missing.`,
		Example: `  # Bind frontend, api, and admin hostnames
  launchpipe domains add --project "Cristy's Cake Shop"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := rt.cloudClient()
			if err != nil {
				return err
			}

			slugName := slug.Normalize(projectName)
			outcome, err := liveOutcome(ctx, client, slugName)
			if err != nil {
				return err
			}

			run := rt.startRun(ctx, "domains", slugName)
			prov := domains.NewProvisioner(client, domains.Options{
				BaseDomain:      rt.cfg.BaseDomain,
				PollInterval:    rt.cfg.Domains.PollInterval,
				MaxPollAttempts: rt.cfg.Domains.MaxPollAttempts,
			}, rt.store, rt.log, rt.metrics)
			prov.ProvisionProject(ctx, outcome)

			var bindErr error
			for _, rec := range outcome.Services {
				for _, d := range rec.Domains {
					if d.Err != nil {
						bindErr = fmt.Errorf("one or more domain bindings failed")
					}
				}
			}
			rt.finishRun(ctx, run, bindErr)
			if err := printOutcome(nil, outcome); err != nil {
				return err
			}
			return bindErr
		},
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "project name or slug")
	cmd.MarkFlagRequired("project")

	return cmd
}

// liveOutcome reconstructs a project outcome from the cloud's view so the
// provisioner can run against services deployed in an earlier invocation.
func liveOutcome(ctx context.Context, client *cloud.Client, slugName string) (*deploy.ProjectOutcome, error) {
	projects, err := client.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud projects: %w", err)
	}

	var project *cloud.Project
	for i := range projects {
		if projects[i].Name == slugName {
			project = &projects[i]
			break
		}
	}
	if project == nil {
		return nil, fmt.Errorf("no cloud project named %s; deploy it first", slugName)
	}

	outcome := &deploy.ProjectOutcome{
		ProjectID: project.ID,
		Slug:      slugName,
		Services:  make(map[modules.Kind]*deploy.ServiceRecord),
	}
	for _, svc := range project.Services {
		// Service names follow {slug}-{kind}.
		kind := modules.Kind(strings.TrimPrefix(svc.Name, slugName+"-"))
		switch kind {
		case modules.KindFrontend, modules.KindBackend, modules.KindAdmin:
			outcome.Services[kind] = &deploy.ServiceRecord{
				Kind:      kind,
				Name:      svc.Name,
				ServiceID: svc.ID,
				State:     deploy.ServiceStateSuccess,
			}
		}
	}
	if len(outcome.Services) == 0 {
		return nil, fmt.Errorf("cloud project %s has no recognizable services", slugName)
	}
	return outcome, nil
}
