package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/launchpipe/launchpipe/pkg/cloud"
	"github.com/launchpipe/launchpipe/pkg/deploy"
	"github.com/launchpipe/launchpipe/pkg/slug"
)

func newProjectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect and manage project records",
	}
	cmd.AddCommand(newProjectsListCommand())
	cmd.AddCommand(newProjectsShowCommand())
	cmd.AddCommand(newProjectsDeleteCommand())
	return cmd
}

func newProjectsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List control-plane project records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.store.ListProjectRecords(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			fmt.Printf("%-30s %-12s %-12s %s\n", "SLUG", "STATUS", "INDUSTRY", "DOMAIN")
			for _, rec := range records {
				fmt.Printf("%-30s %-12s %-12s %s\n", rec.NormalizedName, rec.Status, rec.Industry, rec.Domain)
			}
			return nil
		},
	}
}

func newProjectsShowCommand() *cobra.Command {
	var eventLimit int

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one project record with its runs and audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			normalized := slug.Normalize(args[0])
			rec, err := rt.store.GetProjectByNormalizedName(ctx, normalized)
			if err != nil {
				return err
			}
			events, err := rt.store.ListEvents(ctx, normalized, eventLimit, 0)
			if err != nil {
				return err
			}

			// Runs are not indexed by project; recent ones are filtered here.
			runs, err := rt.store.ListRuns(ctx, 200, 0)
			if err != nil {
				return err
			}
			var projectRuns []any
			for _, run := range runs {
				if run.Project == normalized {
					projectRuns = append(projectRuns, run)
				}
			}

			if jsonOutput {
				return printJSON(map[string]any{
					"record": rec,
					"runs":   projectRuns,
					"events": events,
				})
			}

			fmt.Printf("%s (%s)\n", rec.Name, rec.NormalizedName)
			fmt.Printf("  status:   %s\n", rec.Status)
			fmt.Printf("  industry: %s\n", rec.Industry)
			fmt.Printf("  domain:   %s\n", rec.Domain)
			fmt.Printf("  frontend: %s\n", rec.FrontendURL)
			fmt.Printf("  backend:  %s\n", rec.BackendURL)
			fmt.Printf("  admin:    %s\n", rec.AdminURL)
			if rec.DeployedAt != nil {
				fmt.Printf("  deployed: %s\n", rec.DeployedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Events (%d):\n", len(events))
			for _, ev := range events {
				fmt.Printf("  %s [%s] %s: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Level, ev.Type, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&eventLimit, "events", 20, "number of audit events to show")
	return cmd
}

func newProjectsDeleteCommand() *cobra.Command {
	var keepID string

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project from the cloud and the control-plane database",
		Long: `Delete a project's cloud resources and its control-plane record.

Deletion is irreversible and therefore guarded: --keep must name the
cloud project id that has to survive, and the target is read back before
and after deletion. Any verification failure aborts with a non-zero exit
and leaves everything in place.`,
		Example: `  # Delete a retired project, protecting the production one
  launchpipe projects delete "Old Demo Shop" --keep prj_2f9c81`,
		Args: cobra.ExactArgs(1),
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

			normalized := slug.Normalize(args[0])
			projects, err := client.Projects(ctx)
			if err != nil {
				return fmt.Errorf("failed to list cloud projects: %w", err)
			}
			var target *cloud.Project
			for i := range projects {
				if projects[i].Name == normalized {
					target = &projects[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no cloud project named %s", normalized)
			}

			orch := deploy.NewOrchestrator(client, deploy.Options{
				PollInterval:    rt.cfg.Deploy.PollInterval,
				MaxPollAttempts: rt.cfg.Deploy.MaxPollAttempts,
			}, rt.store, rt.log, rt.metrics)
			if err := orch.DeleteProject(ctx, target.ID, keepID); err != nil {
				return err
			}

			if err := rt.store.DeleteProjectRecord(ctx, normalized); err != nil {
				return fmt.Errorf("cloud project deleted but record removal failed: %w", err)
			}
			fmt.Printf("Deleted project %s (%s)\n", normalized, target.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&keepID, "keep", "", "cloud project id that must never be deleted")
	cmd.MarkFlagRequired("keep")

	return cmd
}
