package modules

import (
	"fmt"
)

// Kind classifies a module by the runtime service it belongs to.
type Kind string

const (
	KindBackend  Kind = "backend"
	KindFrontend Kind = "frontend"
	KindAdmin    Kind = "admin"
)

// Kinds lists every service kind in its canonical order.
var Kinds = []Kind{KindFrontend, KindBackend, KindAdmin}

// Descriptor describes one independently versioned module in the registry.
// A descriptor is immutable once published; identity is the id+version pair.
type Descriptor struct {
	// ID is the registry-unique module identifier, e.g. "booking-routes".
	ID string `yaml:"id" validate:"required"`

	// Version is the published module version.
	Version string `yaml:"version" validate:"required"`

	// Kind is the runtime service the module belongs to.
	Kind Kind `yaml:"kind" validate:"required,oneof=backend frontend admin"`

	// Provides lists the capabilities this module makes available to others.
	Provides []string `yaml:"provides"`

	// Requires lists the capabilities this module needs from other included
	// modules or from the declared baseline.
	Requires []string `yaml:"requires"`

	// Source is the module content location, relative to the registry root.
	Source string `yaml:"source" validate:"required"`

	// Bundles names the bundles this module belongs to. Modules in the
	// "core" bundle are part of every project.
	Bundles []string `yaml:"bundles"`
}

// Key returns the id@version identity of the descriptor.
func (d Descriptor) Key() string {
	return fmt.Sprintf("%s@%s", d.ID, d.Version)
}

// InBundle reports whether the descriptor belongs to the named bundle.
func (d Descriptor) InBundle(bundle string) bool {
	for _, b := range d.Bundles {
		if b == bundle {
			return true
		}
	}
	return false
}

// ProjectConfig is the customer-supplied generation input. It is never
// mutated after assembly starts; a new generation gets a new config.
type ProjectConfig struct {
	// Name is the customer-facing project name, e.g. "Cristy's Cake Shop!".
	Name string `yaml:"name" validate:"required"`

	// Industry is the customer's industry label.
	Industry string `yaml:"industry"`

	// Bundles are the selected bundle ids beyond the implicit core bundle.
	Bundles []string `yaml:"bundles"`

	// Features are free-form feature flags recorded into the manifest.
	Features map[string]bool `yaml:"features"`
}
