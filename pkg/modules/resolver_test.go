package modules

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
)

// fakeRegistry is an in-memory Registry for resolver tests.
type fakeRegistry struct {
	modules  []Descriptor
	baseline []string
}

func (f *fakeRegistry) ModulesForBundles(_ context.Context, bundles []string) ([]Descriptor, error) {
	requested := map[string]struct{}{"core": {}}
	for _, b := range bundles {
		requested[b] = struct{}{}
	}
	var out []Descriptor
	for _, d := range f.modules {
		for _, b := range d.Bundles {
			if _, ok := requested[b]; ok {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRegistry) Baseline(context.Context) ([]string, error) {
	return f.baseline, nil
}

func (f *fakeRegistry) Open(_ context.Context, d Descriptor) (fs.FS, error) {
	return fstest.MapFS{"index.js": &fstest.MapFile{Data: []byte("// " + d.ID)}}, nil
}

func testRegistry() *fakeRegistry {
	return &fakeRegistry{
		baseline: []string{"auth", "database"},
		modules: []Descriptor{
			{ID: "core-api", Version: "1.2.0", Kind: KindBackend, Provides: []string{"api"}, Requires: []string{"database"}, Source: "core-api", Bundles: []string{"core"}},
			{ID: "core-pages", Version: "2.0.1", Kind: KindFrontend, Provides: []string{"pages"}, Requires: []string{"api"}, Source: "core-pages", Bundles: []string{"core"}},
			{ID: "admin-dashboard", Version: "1.0.0", Kind: KindAdmin, Requires: []string{"api", "auth"}, Source: "admin-dashboard", Bundles: []string{"core"}},
			{ID: "booking-routes", Version: "0.9.0", Kind: KindBackend, Provides: []string{"booking"}, Requires: []string{"api"}, Source: "booking-routes", Bundles: []string{"booking"}},
			{ID: "booking-pages", Version: "0.9.0", Kind: KindFrontend, Requires: []string{"booking"}, Source: "booking-pages", Bundles: []string{"booking"}},
			{ID: "loyalty-widget", Version: "3.1.0", Kind: KindFrontend, Requires: []string{"points"}, Source: "loyalty-widget", Bundles: []string{"loyalty"}},
		},
	}
}

// TestResolveCoreOnly resolves a config with no extra bundles.
func TestResolveCoreOnly(t *testing.T) {
	got, err := Resolve(context.Background(), testRegistry(), ProjectConfig{Name: "Cake Shop"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"admin-dashboard", "core-api", "core-pages"}
	if len(got) != len(want) {
		t.Fatalf("resolved %d modules, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("module %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

// TestResolveWithBundle includes bundle modules and keeps id ordering.
func TestResolveWithBundle(t *testing.T) {
	got, err := Resolve(context.Background(), testRegistry(), ProjectConfig{
		Name:    "Cake Shop",
		Bundles: []string{"booking"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"admin-dashboard", "booking-pages", "booking-routes", "core-api", "core-pages"}
	if len(got) != len(want) {
		t.Fatalf("resolved %d modules, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("module %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

// TestResolveDeterministic verifies repeated resolution yields identical output.
func TestResolveDeterministic(t *testing.T) {
	cfg := ProjectConfig{Name: "Cake Shop", Bundles: []string{"booking"}}
	reg := testRegistry()

	first, err := Resolve(context.Background(), reg, cfg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Resolve(context.Background(), reg, cfg)
		if err != nil {
			t.Fatalf("Resolve failed on repeat: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("repeat resolution changed length: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j].Key() != first[j].Key() {
				t.Fatalf("repeat resolution changed order at %d: %s vs %s", j, again[j].Key(), first[j].Key())
			}
		}
	}
}

// TestResolveUnsatisfiedRequirement surfaces the missing capability by name.
func TestResolveUnsatisfiedRequirement(t *testing.T) {
	_, err := Resolve(context.Background(), testRegistry(), ProjectConfig{
		Name:    "Cake Shop",
		Bundles: []string{"loyalty"},
	})
	if err == nil {
		t.Fatal("expected resolution error, got nil")
	}

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %T: %v", err, err)
	}
	if resErr.Module != "loyalty-widget" || resErr.Requirement != "points" {
		t.Errorf("unexpected error detail: module=%s requirement=%s", resErr.Module, resErr.Requirement)
	}
}

// TestResolveCycleRejected verifies requirement cycles fail instead of looping.
func TestResolveCycleRejected(t *testing.T) {
	reg := &fakeRegistry{
		modules: []Descriptor{
			{ID: "a", Version: "1.0.0", Kind: KindBackend, Provides: []string{"cap-a"}, Requires: []string{"cap-b"}, Source: "a", Bundles: []string{"core"}},
			{ID: "b", Version: "1.0.0", Kind: KindBackend, Provides: []string{"cap-b"}, Requires: []string{"cap-a"}, Source: "b", Bundles: []string{"core"}},
		},
	}

	_, err := Resolve(context.Background(), reg, ProjectConfig{Name: "x"})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %T: %v", err, err)
	}
	if len(resErr.Cycle) == 0 {
		t.Errorf("expected cycle path in error, got %+v", resErr)
	}
}

// TestResolveBaselineSatisfies verifies baseline capabilities need no provider.
func TestResolveBaselineSatisfies(t *testing.T) {
	reg := &fakeRegistry{
		baseline: []string{"auth"},
		modules: []Descriptor{
			{ID: "only", Version: "1.0.0", Kind: KindBackend, Requires: []string{"auth"}, Source: "only", Bundles: []string{"core"}},
		},
	}
	got, err := Resolve(context.Background(), reg, ProjectConfig{Name: "x"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "only" {
		t.Fatalf("unexpected resolution result: %+v", got)
	}
}

// TestCountByKind tallies service kinds.
func TestCountByKind(t *testing.T) {
	mods, err := Resolve(context.Background(), testRegistry(), ProjectConfig{
		Name:    "Cake Shop",
		Bundles: []string{"booking"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	counts := CountByKind(mods)
	if counts[KindBackend] != 2 || counts[KindFrontend] != 2 || counts[KindAdmin] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
