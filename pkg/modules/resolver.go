package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ResolutionError reports the first unsatisfiable module requirement, or a
// requirement cycle. Resolution errors are fatal: generation does not proceed.
type ResolutionError struct {
	// Module is the module whose requirement could not be satisfied.
	Module string

	// Requirement is the missing capability; empty for cycle errors.
	Requirement string

	// Cycle is the id path of a requirement cycle, when one was detected.
	Cycle []string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("requirement cycle among modules: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("module %s requires capability %q which no included module or baseline provides", e.Module, e.Requirement)
}

// Resolve selects the concrete module set for a project configuration.
//
// A module is includable only if every capability it requires is provided by
// some other included module or by the registry baseline. The first
// unsatisfied requirement aborts resolution. Requirement cycles are rejected
// rather than looped over. Output is deterministic for a given config and
// registry snapshot: modules are stable-sorted by id then version, so
// repeated generations of the same config stay diff-friendly.
func Resolve(ctx context.Context, reg Registry, cfg ProjectConfig) ([]Descriptor, error) {
	candidates, err := reg.ModulesForBundles(ctx, cfg.Bundles)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	baseline, err := reg.Baseline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry baseline: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ID != candidates[j].ID {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Version < candidates[j].Version
	})

	base := make(map[string]struct{}, len(baseline))
	for _, cap := range baseline {
		base[cap] = struct{}{}
	}

	// providers maps capability -> ids of candidate modules providing it.
	providers := make(map[string][]string)
	for _, d := range candidates {
		for _, cap := range d.Provides {
			providers[cap] = append(providers[cap], d.ID)
		}
	}

	// Every requirement must be satisfiable before cycle analysis; the
	// first gap wins so the error is deterministic.
	for _, d := range candidates {
		for _, req := range d.Requires {
			if _, ok := base[req]; ok {
				continue
			}
			if sat := providers[req]; len(sat) == 0 || (len(sat) == 1 && sat[0] == d.ID) {
				return nil, &ResolutionError{Module: d.ID, Requirement: req}
			}
		}
	}

	if cycle := findRequirementCycle(candidates, base, providers); cycle != nil {
		return nil, &ResolutionError{Cycle: cycle}
	}

	return candidates, nil
}

// findRequirementCycle walks the module-requires-provider graph with a
// three-color DFS and returns the id path of the first cycle found, or nil.
// Modules provide disjoint capabilities in practice, so cycles indicate a
// registry authoring mistake, not a legitimate layout.
func findRequirementCycle(candidates []Descriptor, baseline map[string]struct{}, providers map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(candidates))
	edges := make(map[string][]string, len(candidates))
	for _, d := range candidates {
		for _, req := range d.Requires {
			if _, ok := baseline[req]; ok {
				continue
			}
			for _, p := range providers[req] {
				if p != d.ID {
					edges[d.ID] = append(edges[d.ID], p)
				}
			}
		}
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range edges[id] {
			switch color[next] {
			case gray:
				// Close the loop at the repeated id for readability.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, d := range candidates {
		if color[d.ID] == white {
			if visit(d.ID) {
				return cycle
			}
		}
	}
	return nil
}

// CountByKind tallies a resolved module set per service kind.
func CountByKind(mods []Descriptor) map[Kind]int {
	counts := make(map[Kind]int, len(Kinds))
	for _, d := range mods {
		counts[d.Kind]++
	}
	return counts
}
