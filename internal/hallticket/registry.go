package hallticket

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// ErrUnknownProfile is returned when a profile name is not registered.
var ErrUnknownProfile = errors.New("unknown profile")

// Registry holds the validated profiles by name.
type Registry struct {
	profiles map[string]*Profile
}

// NewRegistry validates and registers every profile. Later duplicates replace
// earlier ones, so configured profiles can override built-ins.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		built, err := NewProfile(p)
		if err != nil {
			return nil, err
		}
		r.profiles[strings.ToLower(built.Name)] = built
	}
	return r, nil
}

// Get returns the named profile.
func (r *Registry) Get(name string) (*Profile, error) {
	p, ok := r.profiles[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the registered profile names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Profiles returns the registered profiles sorted by name.
func (r *Registry) Profiles() []*Profile {
	out := make([]*Profile, 0, len(r.profiles))
	for _, name := range r.Names() {
		out = append(out, r.profiles[strings.ToLower(name)])
	}
	return out
}

// Validator checks identifiers against every registered grammar before any
// request is made for them.
type Validator struct {
	registry      *Registry
	numericWidths []int
}

// NewValidator builds a validator over the registry plus any all-digit
// identifier widths used by numeric range batches.
func NewValidator(registry *Registry, numericWidths ...int) *Validator {
	widths := slices.Clone(numericWidths)
	slices.Sort(widths)
	return &Validator{registry: registry, numericWidths: slices.Compact(widths)}
}

// Match returns the profile position of id when a profile grammar admits it.
func (v *Validator) Match(id string) (Position, bool) {
	if v.registry == nil {
		return Position{}, false
	}
	for _, p := range v.registry.Profiles() {
		if pos, ok := p.Locate(id); ok {
			return pos, true
		}
	}
	return Position{}, false
}

// Validate returns results.ErrInvalidIdentifier when no grammar admits id.
func (v *Validator) Validate(id string) error {
	if _, ok := v.Match(id); ok {
		return nil
	}
	if _, ok := digits(id); ok && slices.Contains(v.numericWidths, len(id)) {
		return nil
	}
	return fmt.Errorf("%w: %q", results.ErrInvalidIdentifier, id)
}
