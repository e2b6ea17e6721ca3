package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/launchpipe/launchpipe/pkg/modules"
	"github.com/launchpipe/launchpipe/pkg/telemetry"
)

// memRegistry serves module content from in-memory filesystems.
type memRegistry struct {
	baseline []string
	mods     []modules.Descriptor
	content  map[string]fstest.MapFS
	failOpen map[string]bool
}

func (m *memRegistry) ModulesForBundles(context.Context, []string) ([]modules.Descriptor, error) {
	return m.mods, nil
}

func (m *memRegistry) Baseline(context.Context) ([]string, error) {
	return m.baseline, nil
}

func (m *memRegistry) Open(_ context.Context, d modules.Descriptor) (fs.FS, error) {
	if m.failOpen[d.ID] {
		return nil, errors.New("registry unavailable")
	}
	if tree, ok := m.content[d.ID]; ok {
		return tree, nil
	}
	return nil, errors.New("module content missing")
}

func testMods() ([]modules.Descriptor, *memRegistry) {
	mods := []modules.Descriptor{
		{ID: "core-api", Version: "1.0.0", Kind: modules.KindBackend, Source: "core-api"},
		{ID: "core-pages", Version: "2.0.0", Kind: modules.KindFrontend, Source: "core-pages"},
		{ID: "admin-dashboard", Version: "1.0.0", Kind: modules.KindAdmin, Source: "admin-dashboard"},
	}
	reg := &memRegistry{
		mods: mods,
		content: map[string]fstest.MapFS{
			"core-api":        {"routes/index.js": &fstest.MapFile{Data: []byte("api\n")}},
			"core-pages":      {"pages/home.jsx": &fstest.MapFile{Data: []byte("home\n")}},
			"admin-dashboard": {"admin.jsx": &fstest.MapFile{Data: []byte("admin\n")}},
		},
		failOpen: map[string]bool{},
	}
	return mods, reg
}

func newTestAssembler(t *testing.T, dir string) *Assembler {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return New(dir, "launchpipe", "test", log, metrics)
}

// TestAssembleMaterializesTreeAndManifest covers the happy path.
func TestAssembleMaterializesTreeAndManifest(t *testing.T) {
	dir := t.TempDir()
	mods, reg := testMods()
	a := newTestAssembler(t, dir)

	cfg := modules.ProjectConfig{Name: "Cristy's Cake Shop!", Industry: "bakery", Bundles: []string{"booking"}}
	content := ContentSet{"home": json.RawMessage(`{"headline":"Welcome"}`)}

	res, err := a.Assemble(context.Background(), reg, cfg, mods, content)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	want := filepath.Join(dir, "cristys-cake-shop")
	if res.Path != want {
		t.Errorf("promoted path = %s, want %s", res.Path, want)
	}

	for _, p := range []string{
		"backend/core-api/routes/index.js",
		"frontend/core-pages/pages/home.jsx",
		"admin/admin-dashboard/admin.jsx",
		"frontend/content/home.json",
		ManifestFileName,
	} {
		if _, err := os.Stat(filepath.Join(res.Path, p)); err != nil {
			t.Errorf("expected %s in project tree: %v", p, err)
		}
	}

	m, err := LoadManifest(res.Path)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}
	if m.Slug != "cristys-cake-shop" || len(m.Modules) != 3 {
		t.Errorf("unexpected manifest: %+v", m)
	}
	if m.Counts.Frontend != 1 || m.Counts.Backend != 1 || m.Counts.Admin != 1 {
		t.Errorf("unexpected counts: %+v", m.Counts)
	}
	if m.CreatedAt.IsZero() {
		t.Error("manifest timestamp not set")
	}
}

// TestAssembleDeterministicManifest checks canonical manifests are
// byte-identical across reruns.
func TestAssembleDeterministicManifest(t *testing.T) {
	mods, reg := testMods()
	cfg := modules.ProjectConfig{
		Name:     "Cake Shop",
		Bundles:  []string{"loyalty", "booking"},
		Features: map[string]bool{"dark_mode": true, "beta": false},
	}

	a1 := newTestAssembler(t, t.TempDir())
	a2 := newTestAssembler(t, t.TempDir())

	res1, err := a1.Assemble(context.Background(), reg, cfg, mods, nil)
	if err != nil {
		t.Fatalf("first Assemble failed: %v", err)
	}
	res2, err := a2.Assemble(context.Background(), reg, cfg, mods, nil)
	if err != nil {
		t.Fatalf("second Assemble failed: %v", err)
	}

	c1, err := res1.Manifest.Canonical()
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	c2, err := res2.Manifest.Canonical()
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	if !bytes.Equal(c1, c2) {
		t.Errorf("canonical manifests differ:\n%s\nvs\n%s", c1, c2)
	}
}

// TestAssembleFailurePreservesPreviousTree verifies atomic promotion: a
// failed re-assembly leaves the promoted tree untouched.
func TestAssembleFailurePreservesPreviousTree(t *testing.T) {
	dir := t.TempDir()
	mods, reg := testMods()
	a := newTestAssembler(t, dir)
	cfg := modules.ProjectConfig{Name: "Cake Shop"}

	res, err := a.Assemble(context.Background(), reg, cfg, mods, nil)
	if err != nil {
		t.Fatalf("initial Assemble failed: %v", err)
	}
	goodManifest, err := os.ReadFile(filepath.Join(res.Path, ManifestFileName))
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}

	// Second assembly fails placing the last module.
	reg.failOpen["core-pages"] = true
	_, err = a.Assemble(context.Background(), reg, cfg, mods, nil)
	if err == nil {
		t.Fatal("expected assembly failure, got nil")
	}
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected *AssemblyError, got %T: %v", err, err)
	}

	after, err := os.ReadFile(filepath.Join(res.Path, ManifestFileName))
	if err != nil {
		t.Fatalf("previous tree damaged: %v", err)
	}
	if !bytes.Equal(goodManifest, after) {
		t.Error("previous manifest changed after failed assembly")
	}

	// No staging leftovers.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read output dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "cake-shop" {
			t.Errorf("unexpected leftover entry %s", e.Name())
		}
	}
}

// TestAssembleRetiresPreviousTreeOnSuccess verifies re-generation keeps the
// old tree (and its manifest) for audit.
func TestAssembleRetiresPreviousTreeOnSuccess(t *testing.T) {
	dir := t.TempDir()
	mods, reg := testMods()
	a := newTestAssembler(t, dir)
	cfg := modules.ProjectConfig{Name: "Cake Shop"}

	if _, err := a.Assemble(context.Background(), reg, cfg, mods, nil); err != nil {
		t.Fatalf("initial Assemble failed: %v", err)
	}
	if _, err := a.Assemble(context.Background(), reg, cfg, mods, nil); err != nil {
		t.Fatalf("re-Assemble failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read output dir: %v", err)
	}
	retired := 0
	for _, e := range entries {
		if len(e.Name()) > len("cake-shop.retired-") && e.Name()[:len("cake-shop.retired-")] == "cake-shop.retired-" {
			retired++
		}
	}
	if retired != 1 {
		t.Errorf("expected 1 retired tree, found %d", retired)
	}
}

// TestAssembleRejectsEmptySlug verifies symbol-only names fail fast.
func TestAssembleRejectsEmptySlug(t *testing.T) {
	mods, reg := testMods()
	a := newTestAssembler(t, t.TempDir())

	_, err := a.Assemble(context.Background(), reg, modules.ProjectConfig{Name: "!!!"}, mods, nil)
	if err == nil {
		t.Fatal("expected error for unnormalizable name, got nil")
	}
}

// TestAssembleRejectsBadPageID verifies content ids cannot escape the tree.
func TestAssembleRejectsBadPageID(t *testing.T) {
	mods, reg := testMods()
	a := newTestAssembler(t, t.TempDir())

	content := ContentSet{"../evil": json.RawMessage(`{}`)}
	_, err := a.Assemble(context.Background(), reg, modules.ProjectConfig{Name: "Shop"}, mods, content)
	if err == nil {
		t.Fatal("expected error for escaping page id, got nil")
	}
}
