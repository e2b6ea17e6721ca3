package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/launchpipe/launchpipe/pkg/modules"
)

// ManifestFileName is the manifest's file name inside a project tree.
const ManifestFileName = "manifest.yaml"

// ModuleRef records one included module at an exact version.
type ModuleRef struct {
	ID      string       `yaml:"id"`
	Version string       `yaml:"version"`
	Kind    modules.Kind `yaml:"kind"`
}

// ServiceCounts tallies included modules per runtime service. A struct
// rather than a map so manifest serialization is deterministic.
type ServiceCounts struct {
	Frontend int `yaml:"frontend"`
	Backend  int `yaml:"backend"`
	Admin    int `yaml:"admin"`
}

// Total returns the total module count.
func (c ServiceCounts) Total() int {
	return c.Frontend + c.Backend + c.Admin
}

// Manifest is the append-only record of exactly what one assembly produced.
// Re-generation writes a new manifest; old project trees are retired, not
// overwritten, so prior manifests stay on disk for audit.
type Manifest struct {
	// Project is the customer-facing project name.
	Project string `yaml:"project"`

	// Slug is the normalized project name.
	Slug string `yaml:"slug"`

	// Industry is the customer's industry label.
	Industry string `yaml:"industry,omitempty"`

	// Generator identifies the generator that produced this tree.
	Generator string `yaml:"generator"`

	// GeneratorVersion is the generator's version.
	GeneratorVersion string `yaml:"generator_version"`

	// Bundles are the bundle ids the customer selected, sorted.
	Bundles []string `yaml:"bundles,omitempty"`

	// Features are the enabled feature flags, sorted.
	Features []string `yaml:"features,omitempty"`

	// Modules lists every materialized module. This list must match the
	// placed tree exactly; a mismatch is an assembly failure, never a
	// silently dropped module.
	Modules []ModuleRef `yaml:"modules"`

	// Counts tallies modules per service kind.
	Counts ServiceCounts `yaml:"counts"`

	// CreatedAt is the assembly timestamp. Excluded from the canonical
	// form so identical inputs produce byte-identical manifests.
	CreatedAt time.Time `yaml:"created_at"`
}

// NewManifest builds a manifest for a resolved module set.
func NewManifest(cfg modules.ProjectConfig, slugName, generator, generatorVersion string, mods []modules.Descriptor) *Manifest {
	refs := make([]ModuleRef, len(mods))
	for i, d := range mods {
		refs[i] = ModuleRef{ID: d.ID, Version: d.Version, Kind: d.Kind}
	}
	byKind := modules.CountByKind(mods)
	counts := ServiceCounts{
		Frontend: byKind[modules.KindFrontend],
		Backend:  byKind[modules.KindBackend],
		Admin:    byKind[modules.KindAdmin],
	}

	bundles := append([]string{}, cfg.Bundles...)
	sort.Strings(bundles)

	var features []string
	for name, on := range cfg.Features {
		if on {
			features = append(features, name)
		}
	}
	sort.Strings(features)

	return &Manifest{
		Project:          cfg.Name,
		Slug:             slugName,
		Industry:         cfg.Industry,
		Generator:        generator,
		GeneratorVersion: generatorVersion,
		Bundles:          bundles,
		Features:         features,
		Modules:          refs,
		Counts:           counts,
		CreatedAt:        time.Now().UTC(),
	}
}

// Canonical serializes the manifest with the timestamp zeroed. Two
// assemblies of the same config and registry snapshot must produce equal
// canonical bytes.
func (m *Manifest) Canonical() ([]byte, error) {
	clone := *m
	clone.CreatedAt = time.Time{}
	data, err := yaml.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// WriteTo writes the manifest into dir.
func (m *Manifest) WriteTo(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest from a project directory. Reconciliation
// uses it as the metadata source for locally scanned projects.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
