package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kyleqd/sitemap/internal/sitemap"
)

// Config holds the tunable thresholds of the built-in rules plus any
// operator-defined rules.
type Config struct {
	// IncompatibleZones lists zone types that may not overlap. Pairs are
	// symmetric: listing restricted -> guest_areas also forbids the reverse.
	IncompatibleZones map[sitemap.ZoneType][]sitemap.ZoneType `yaml:"incompatible_zones"`
	// MinClearance is the minimum width in metres per measurement type.
	MinClearance map[sitemap.MeasurementType]float64 `yaml:"min_clearance_meters"`
	Custom       []CustomRule                        `yaml:"custom_rules"`
}

// DefaultConfig uses common fire-code figures: 20 ft fire lanes, 12 ft
// emergency routes and 36 in accessible routes.
func DefaultConfig() Config {
	return Config{
		IncompatibleZones: map[sitemap.ZoneType][]sitemap.ZoneType{
			sitemap.ZoneRestricted: {sitemap.ZoneGuestAreas, sitemap.ZoneVIPAreas},
		},
		MinClearance: map[sitemap.MeasurementType]float64{
			sitemap.MeasureFireLane:       6.1,
			sitemap.MeasureEmergencyRoute: 3.66,
			sitemap.MeasureADAAccess:      0.915,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IncompatibleZones == nil {
		c.IncompatibleZones = d.IncompatibleZones
	}
	if c.MinClearance == nil {
		c.MinClearance = d.MinClearance
	}
	return c
}

func (c Config) incompatible() map[sitemap.ZoneType]map[sitemap.ZoneType]bool {
	out := make(map[sitemap.ZoneType]map[sitemap.ZoneType]bool)
	mark := func(a, b sitemap.ZoneType) {
		if out[a] == nil {
			out[a] = make(map[sitemap.ZoneType]bool)
		}
		out[a][b] = true
	}
	for a, bs := range c.IncompatibleZones {
		for _, b := range bs {
			mark(a, b)
			mark(b, a)
		}
	}
	return out
}

// ParseConfig reads a YAML rules document. Sections left out keep their
// defaults; a section that is present replaces the default entirely.
func ParseConfig(data []byte) (Config, error) {
	var raw Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding rules: %w", err)
	}
	for a, bs := range raw.IncompatibleZones {
		for _, b := range append([]sitemap.ZoneType{a}, bs...) {
			if !b.Valid() {
				return Config{}, fmt.Errorf("decoding rules: unknown zone type %q", b)
			}
		}
	}
	for t, v := range raw.MinClearance {
		if v < 0 {
			return Config{}, fmt.Errorf("decoding rules: negative clearance for %s", t)
		}
	}
	return raw.withDefaults(), nil
}

// LoadConfig reads rules from a YAML file. An empty path yields defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseConfig(data)
}
