package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/reconcile"
	"github.com/launchpipe/launchpipe/pkg/slug"
	"github.com/launchpipe/launchpipe/pkg/stores"
)

func newGenerateCommand() *cobra.Command {
	var (
		projectName string
		industry    string
		bundles     []string
		features    []string
		contentFile string
		deployAfter bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Assemble a project from its module set",
		Long: `Assemble a deployable project tree for a customer.

This command:
  - Normalizes the project name into its slug
  - Resolves the module set for the selected bundles
  - Materializes modules and generated content into a staging tree
  - Writes the assembly manifest and promotes the tree atomically
  - Records the project in the control-plane database
  - Optionally deploys the result (--deploy)`,
		Example: `  # Assemble with the core bundle only
  launchpipe generate --name "Cristy's Cake Shop"

  # Assemble with extra bundles and generated content
  launchpipe generate --name "Coffee2U" --bundle ecommerce --content pages.json

  # Assemble and deploy in one step
  launchpipe generate --name "Coffee2U" --deploy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			slugName := slug.Normalize(projectName)
			if slugName == "" {
				return fmt.Errorf("project name %q normalizes to an empty slug", projectName)
			}

			run := rt.startRun(ctx, "generate", slugName)
			result, err := runGenerate(ctx, rt, modules.ProjectConfig{
				Name:     projectName,
				Industry: industry,
				Bundles:  bundles,
				Features: featureMap(features),
			}, contentFile)
			if err != nil {
				rt.finishRun(ctx, run, err)
				return err
			}

			if deployAfter {
				outcome, deployErr := runDeploy(ctx, rt, result.Manifest, result.Path)
				rt.finishRun(ctx, run, deployErr)
				// Partial failures still report every service's outcome.
				if printErr := printOutcome(result, outcome); printErr != nil && deployErr == nil {
					deployErr = printErr
				}
				return deployErr
			}

			rt.finishRun(ctx, run, nil)
			return printOutcome(result, nil)
		},
	}

	cmd.Flags().StringVarP(&projectName, "name", "n", "", "customer-facing project name")
	cmd.Flags().StringVar(&industry, "industry", "", "customer industry label")
	cmd.Flags().StringSliceVar(&bundles, "bundle", nil, "feature bundle to include (repeatable)")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "feature flag to enable (repeatable)")
	cmd.Flags().StringVar(&contentFile, "content", "", "JSON file of generated page content, keyed by page id")
	cmd.Flags().BoolVar(&deployAfter, "deploy", false, "deploy the project after assembly")
	cmd.MarkFlagRequired("name")

	return cmd
}

// runGenerate resolves and assembles one project, then records it.
func runGenerate(ctx context.Context, rt *runtime, cfg modules.ProjectConfig, contentFile string) (*assembler.Result, error) {
	registry := modules.NewFileRegistry(rt.cfg.RegistryDir)

	mods, err := modules.Resolve(ctx, registry, cfg)
	if err != nil {
		return nil, err
	}

	content, err := loadContent(contentFile)
	if err != nil {
		return nil, err
	}

	asm := assembler.New(rt.cfg.OutputDir, rt.cfg.Generator.ID, rt.cfg.Generator.Version, rt.log, rt.metrics)
	result, err := asm.Assemble(ctx, registry, cfg, mods, content)
	if err != nil {
		return nil, err
	}

	if err := recordProject(ctx, rt, cfg, result.Manifest); err != nil {
		return nil, err
	}
	return result, nil
}

// recordProject upserts the control-plane record for a freshly assembled
// project with its derived URL set.
func recordProject(ctx context.Context, rt *runtime, cfg modules.ProjectConfig, manifest *assembler.Manifest) error {
	existing, err := rt.store.GetProjectByNormalizedName(ctx, manifest.Slug)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		derived := reconcile.DeriveURLs(manifest.Slug, rt.cfg.BaseDomain, rt.cfg.GitHubOrg)
		rec := &stores.ProjectRecord{
			Name:           cfg.Name,
			NormalizedName: manifest.Slug,
			Industry:       cfg.Industry,
			Status:         stores.ProjectStatusCompleted,
			Domain:         derived.Domain,
			FrontendURL:    derived.FrontendURL,
			AdminURL:       derived.AdminURL,
			BackendURL:     derived.BackendURL,
			GithubFrontend: derived.GithubFrontend,
			GithubBackend:  derived.GithubBackend,
			GithubAdmin:    derived.GithubAdmin,
			Metadata:       "{}",
		}
		return rt.store.CreateProjectRecord(ctx, rec)
	case err != nil:
		return fmt.Errorf("failed to look up project record: %w", err)
	default:
		if cfg.Industry != "" {
			existing.Industry = cfg.Industry
		}
		existing.Status = stores.ProjectStatusCompleted
		return rt.store.UpdateProjectRecord(ctx, existing)
	}
}

// loadContent reads the generated page content file, if any.
func loadContent(path string) (assembler.ContentSet, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	var content assembler.ContentSet
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to parse content file %s: %w", path, err)
	}
	return content, nil
}

// featureMap turns the repeated --feature flag into the config shape.
func featureMap(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
