package region

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Region is one isolated deployment of the data store
type Region struct {
	Code                 string
	ConnectionDescriptor string
}

// Registry is an immutable snapshot of the known regions and the hub topology.
// It is built once at start and shared read-only between workers.
type Registry struct {
	regions    map[string]Region
	codes      []string
	satellites map[string]struct{}
	aggregator string
	euRegions  []string
}

// Topology describes the routing shape that is not tied to a connection
type Topology struct {
	Satellites []string
	Aggregator string
	EURegions  []string
}

// New validates and freezes the region list
func New(regions []Region, topo Topology) (*Registry, error) {
	r := &Registry{
		regions:    make(map[string]Region, len(regions)),
		satellites: make(map[string]struct{}, len(topo.Satellites)),
		aggregator: Normalize(topo.Aggregator),
	}

	var errs []error
	for _, reg := range regions {
		code := Normalize(reg.Code)
		if code == "" {
			errs = append(errs, errors.New("region with empty code"))
			continue
		}
		if strings.TrimSpace(reg.ConnectionDescriptor) == "" {
			errs = append(errs, fmt.Errorf("region %s has an empty connection descriptor", code))
			continue
		}
		if _, dup := r.regions[code]; dup {
			errs = append(errs, fmt.Errorf("region %s declared twice", code))
			continue
		}
		r.regions[code] = Region{Code: code, ConnectionDescriptor: strings.TrimSpace(reg.ConnectionDescriptor)}
		r.codes = append(r.codes, code)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	slices.Sort(r.codes)

	for _, s := range topo.Satellites {
		if code := Normalize(s); code != "" {
			r.satellites[code] = struct{}{}
		}
	}
	for _, eu := range topo.EURegions {
		if code := Normalize(eu); code != "" && !slices.Contains(r.euRegions, code) {
			r.euRegions = append(r.euRegions, code)
		}
	}

	return r, nil
}

// Normalize is the canonical form of a region code
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Equal compares region codes ignoring case
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Codes returns every registered region code, sorted
func (r *Registry) Codes() []string {
	return slices.Clone(r.codes)
}

// Regions returns every registered region, sorted by code
func (r *Registry) Regions() []Region {
	out := make([]Region, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, r.regions[code])
	}
	return out
}

func (r *Registry) Lookup(code string) (Region, bool) {
	reg, ok := r.regions[Normalize(code)]
	return reg, ok
}

func (r *Registry) IsSatellite(code string) bool {
	_, ok := r.satellites[Normalize(code)]
	return ok
}

// Aggregator is the central hub region satellites always feed. Empty disables the hub rule.
func (r *Registry) Aggregator() string {
	return r.aggregator
}

// EURegions is the fixed target set of the EUOnly scope
func (r *Registry) EURegions() []string {
	return slices.Clone(r.euRegions)
}
