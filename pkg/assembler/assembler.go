package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/slug"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// AssemblyError reports a mismatch between what the resolver selected and
// what could be materialized. Assembly errors are fatal and leave any
// previously promoted project tree untouched.
type AssemblyError struct {
	// Module is the module that could not be placed, when known.
	Module string

	// Reason describes the failure.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *AssemblyError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("assembly failed placing module %s: %s", e.Module, e.Reason)
	}
	return fmt.Sprintf("assembly failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// ContentSet is the externally generated page content, keyed by page id.
// The assembler places it opaquely; it never interprets the payloads.
type ContentSet map[string]json.RawMessage

// ContentSource produces the generated content for a project. The AI
// content service behind it is out of scope; the pipeline only consumes
// this interface.
type ContentSource interface {
	Content(ctx context.Context, cfg modules.ProjectConfig) (ContentSet, error)
}

// Result describes a completed assembly.
type Result struct {
	// Manifest is the written manifest.
	Manifest *Manifest

	// Path is the promoted project directory.
	Path string
}

// Assembler materializes resolved module sets into deployable project trees.
type Assembler struct {
	outputDir        string
	generator        string
	generatorVersion string
	log              *telemetry.Logger
	metrics          *telemetry.Metrics
}

// New creates an assembler writing under outputDir.
func New(outputDir, generator, generatorVersion string, log *telemetry.Logger, metrics *telemetry.Metrics) *Assembler {
	return &Assembler{
		outputDir:        outputDir,
		generator:        generator,
		generatorVersion: generatorVersion,
		log:              log.NewComponentLogger("assembler"),
		metrics:          metrics,
	}
}

// Assemble materializes the resolved modules plus generated content into a
// fresh staging directory and promotes it atomically on full success. A
// previously promoted tree for the same project is retired by rename, never
// overwritten in place, so a failed assembly cannot damage the last good
// state.
func (a *Assembler) Assemble(ctx context.Context, reg modules.Registry, cfg modules.ProjectConfig, mods []modules.Descriptor, content ContentSet) (*Result, error) {
	start := time.Now()

	slugName := slug.Normalize(cfg.Name)
	if slugName == "" {
		return nil, &AssemblyError{Reason: fmt.Sprintf("project name %q normalizes to an empty slug", cfg.Name)}
	}

	if err := os.MkdirAll(a.outputDir, 0755); err != nil {
		return nil, &AssemblyError{Reason: "failed to create output directory", Err: err}
	}

	staging := filepath.Join(a.outputDir, fmt.Sprintf("%s.staging-%s", slugName, uuid.New().String()[:8]))
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, &AssemblyError{Reason: "failed to create staging directory", Err: err}
	}
	// Staging is removed on every failure path; only promotion keeps it.
	defer os.RemoveAll(staging)

	placed := 0
	for _, d := range mods {
		if err := ctx.Err(); err != nil {
			a.metrics.RecordAssembly("canceled", time.Since(start), placed)
			return nil, &AssemblyError{Module: d.Key(), Reason: "assembly canceled", Err: err}
		}
		if err := a.placeModule(ctx, reg, staging, d); err != nil {
			a.metrics.RecordAssembly("failed", time.Since(start), placed)
			return nil, err
		}
		placed++
	}

	// The manifest must enumerate exactly what was placed. Placement
	// failures above are fatal, so a count mismatch here means a bug, and
	// it still must not produce a lying manifest.
	if placed != len(mods) {
		a.metrics.RecordAssembly("failed", time.Since(start), placed)
		return nil, &AssemblyError{Reason: fmt.Sprintf("placed %d of %d resolved modules", placed, len(mods))}
	}

	if err := a.placeContent(staging, content); err != nil {
		a.metrics.RecordAssembly("failed", time.Since(start), placed)
		return nil, err
	}

	manifest := NewManifest(cfg, slugName, a.generator, a.generatorVersion, mods)
	if err := manifest.WriteTo(staging); err != nil {
		a.metrics.RecordAssembly("failed", time.Since(start), placed)
		return nil, &AssemblyError{Reason: "failed to write manifest", Err: err}
	}

	final := filepath.Join(a.outputDir, slugName)
	if err := a.promote(staging, final); err != nil {
		a.metrics.RecordAssembly("failed", time.Since(start), placed)
		return nil, err
	}

	a.metrics.RecordAssembly("success", time.Since(start), placed)
	a.log.WithProject(slugName).Info().
		Int("modules", manifest.Counts.Total()).
		Str("path", final).
		Msg("assembled project tree")

	return &Result{Manifest: manifest, Path: final}, nil
}

// placeModule copies one module's content tree into the staging directory
// under its service kind.
func (a *Assembler) placeModule(ctx context.Context, reg modules.Registry, staging string, d modules.Descriptor) error {
	tree, err := reg.Open(ctx, d)
	if err != nil {
		return &AssemblyError{Module: d.Key(), Reason: "failed to open module content", Err: err}
	}

	dest := filepath.Join(staging, string(d.Kind), d.ID)
	if err := copyTree(tree, dest); err != nil {
		return &AssemblyError{Module: d.Key(), Reason: "failed to copy module content", Err: err}
	}

	a.log.Debug().Str("module", d.Key()).Str("kind", string(d.Kind)).Msg("placed module")
	return nil
}

// placeContent writes the generated page content under frontend/content.
// Payloads are opaque; only the page id is validated, because it becomes a
// file name.
func (a *Assembler) placeContent(staging string, content ContentSet) error {
	if len(content) == 0 {
		return nil
	}

	dir := filepath.Join(staging, string(modules.KindFrontend), "content")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &AssemblyError{Reason: "failed to create content directory", Err: err}
	}

	for pageID, payload := range content {
		if pageID == "" || strings.ContainsAny(pageID, `/\`) || strings.Contains(pageID, "..") {
			return &AssemblyError{Reason: fmt.Sprintf("invalid page id %q", pageID)}
		}
		path := filepath.Join(dir, pageID+".json")
		if err := os.WriteFile(path, payload, 0644); err != nil {
			return &AssemblyError{Reason: fmt.Sprintf("failed to write content for page %s", pageID), Err: err}
		}
	}
	return nil
}

// promote atomically swaps the staging tree into the final path. An existing
// tree is retired by rename first and restored if promotion fails, so there
// is no moment with a partially written final path.
func (a *Assembler) promote(staging, final string) error {
	retired := ""
	if _, err := os.Stat(final); err == nil {
		retired = fmt.Sprintf("%s.retired-%d", final, time.Now().UnixMilli())
		if err := os.Rename(final, retired); err != nil {
			return &AssemblyError{Reason: "failed to retire previous project tree", Err: err}
		}
	}

	if err := os.Rename(staging, final); err != nil {
		if retired != "" {
			// Best effort restore of the previous good tree.
			_ = os.Rename(retired, final)
		}
		return &AssemblyError{Reason: "failed to promote staging tree", Err: err}
	}
	return nil
}

// copyTree copies an fs.FS into dest on the real filesystem.
func copyTree(tree fs.FS, dest string) error {
	return fs.WalkDir(tree, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		src, err := tree.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			return err
		}
		return dst.Close()
	})
}
