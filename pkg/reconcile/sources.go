package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/launchpipe/launchpipe/pkg/assembler"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// Provenance values stamped into record metadata.
const (
	ProvenanceLocalScan       = "local-scan"
	ProvenanceExternalListing = "external-listing"
)

// DirScanner discovers generated project folders on disk. Each folder's
// name is a candidate; a manifest inside it supplies metadata when present.
type DirScanner struct {
	root string
}

// NewDirScanner creates a scanner over root.
func NewDirScanner(root string) *DirScanner {
	return &DirScanner{root: root}
}

// Scan lists candidate projects under the root. Staging and retired trees
// from the assembler are skipped; they are working or audit copies, not
// projects of their own.
func (s *DirScanner) Scan(ctx context.Context) ([]SourceRecord, error) {
	log := telemetry.FromContext(ctx).NewComponentLogger("scanner")

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	var out []SourceRecord
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, ".staging-") || strings.Contains(name, ".retired-") {
			continue
		}

		rec := SourceRecord{Name: name, Provenance: ProvenanceLocalScan}

		manifest, err := assembler.LoadManifest(filepath.Join(s.root, name))
		if err == nil {
			// Prefer the manifest's display name; the folder name is its
			// slug.
			if manifest.Project != "" {
				rec.Name = manifest.Project
			}
			rec.Industry = manifest.Industry
			rec.Metadata = map[string]any{
				"generator":         manifest.Generator,
				"generator_version": manifest.GeneratorVersion,
				"bundles":           manifest.Bundles,
				"module_counts": map[string]int{
					"frontend": manifest.Counts.Frontend,
					"backend":  manifest.Counts.Backend,
					"admin":    manifest.Counts.Admin,
				},
			}
		} else {
			log.Debug().Str("folder", name).Msg("no readable manifest, using folder name only")
		}

		out = append(out, rec)
	}
	return out, nil
}

// listingFile is the external listing file schema: a structured list of
// name/URL records, regardless of where the listing originally came from.
type listingFile struct {
	Projects []SourceRecord `yaml:"projects"`
}

// LoadListing reads an external authoritative listing from a YAML file.
func LoadListing(path string) ([]SourceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing %s: %w", path, err)
	}
	var f listingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", path, err)
	}
	for i := range f.Projects {
		f.Projects[i].Provenance = ProvenanceExternalListing
	}
	return f.Projects, nil
}
