package modules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Registry is the module registry the resolver and assembler consume.
// Implementations are read-only snapshots: two calls during one generation
// must observe the same published set.
type Registry interface {
	// ModulesForBundles returns every descriptor belonging to the core
	// bundle or to any of the requested bundles.
	ModulesForBundles(ctx context.Context, bundles []string) ([]Descriptor, error)

	// Baseline returns the capabilities provided unconditionally by the
	// platform (e.g. "auth"), satisfiable without any module.
	Baseline(ctx context.Context) ([]string, error)

	// Open returns the content tree of a module for materialization.
	Open(ctx context.Context, d Descriptor) (fs.FS, error)
}

// indexFile is the on-disk registry index schema.
type indexFile struct {
	Baseline []string     `yaml:"baseline"`
	Modules  []Descriptor `yaml:"modules"`
}

// FileRegistry implements Registry over a directory containing a
// registry.yaml index and one content directory per module.
type FileRegistry struct {
	root     string
	validate *validator.Validate

	mu    sync.Mutex
	index *indexFile
}

// NewFileRegistry creates a registry rooted at dir. The index is loaded
// lazily on first use and cached for the lifetime of the registry, which
// gives every generation a consistent snapshot.
func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{
		root:     dir,
		validate: validator.New(),
	}
}

// load reads and validates the registry index once.
func (r *FileRegistry) load() (*indexFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil {
		return r.index, nil
	}

	path := filepath.Join(r.root, "registry.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry index: %w", err)
	}

	var idx indexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse registry index: %w", err)
	}

	seen := make(map[string]struct{}, len(idx.Modules))
	for i := range idx.Modules {
		d := &idx.Modules[i]
		if err := r.validate.Struct(d); err != nil {
			return nil, fmt.Errorf("invalid module descriptor %q: %w", d.ID, err)
		}
		key := d.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate module %s in registry index", key)
		}
		seen[key] = struct{}{}
	}

	r.index = &idx
	return r.index, nil
}

// ModulesForBundles implements Registry.
func (r *FileRegistry) ModulesForBundles(_ context.Context, bundles []string) ([]Descriptor, error) {
	idx, err := r.load()
	if err != nil {
		return nil, err
	}

	requested := make(map[string]struct{}, len(bundles)+1)
	requested["core"] = struct{}{}
	for _, b := range bundles {
		requested[b] = struct{}{}
	}

	var out []Descriptor
	for _, d := range idx.Modules {
		for b := range requested {
			if d.InBundle(b) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// Baseline implements Registry.
func (r *FileRegistry) Baseline(_ context.Context) ([]string, error) {
	idx, err := r.load()
	if err != nil {
		return nil, err
	}
	return idx.Baseline, nil
}

// Open implements Registry. Module sources must stay inside the registry
// root; an index entry escaping it is rejected.
func (r *FileRegistry) Open(_ context.Context, d Descriptor) (fs.FS, error) {
	dir := filepath.Join(r.root, d.Source)
	rel, err := filepath.Rel(r.root, dir)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return nil, fmt.Errorf("module %s source %q escapes registry root", d.Key(), d.Source)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("module %s content missing: %w", d.Key(), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("module %s source %q is not a directory", d.Key(), d.Source)
	}
	return os.DirFS(dir), nil
}
