package mapping

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/shimmeringbee/tuyadp/datapoint"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var defaultTables embed.FS

type tableFile struct {
	Version string                     `yaml:"version"`
	Tables  map[string][]definitionRow `yaml:"tables"`
}

type definitionRow struct {
	ID         uint8            `yaml:"id"`
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"`
	Capability string           `yaml:"capability,omitempty"`
	Scale      float64          `yaml:"scale,omitempty"`
	Enum       map[int64]string `yaml:"enum,omitempty"`
	Role       string           `yaml:"role,omitempty"`
	Invert     bool             `yaml:"invert,omitempty"`
	TrueValues []int64          `yaml:"true_values,omitempty"`
	Min        *float64         `yaml:"min,omitempty"`
	Max        *float64         `yaml:"max,omitempty"`
}

func (r definitionRow) definition() (Definition, error) {
	kind, err := datapoint.ParseKind(r.Kind)
	if err != nil {
		return Definition{}, fmt.Errorf("datapoint %d: %w", r.ID, err)
	}

	role, err := ParseRole(r.Role)
	if err != nil {
		return Definition{}, fmt.Errorf("datapoint %d: %w", r.ID, err)
	}

	return Definition{
		ID:         r.ID,
		Name:       r.Name,
		DecodeAs:   kind,
		Capability: r.Capability,
		Scale:      r.Scale,
		EnumValues: r.Enum,
		Role:       role,
		Invert:     r.Invert,
		TrueValues: r.TrueValues,
		Minimum:    r.Min,
		Maximum:    r.Max,
	}, nil
}

// Default returns the registry built from the tables embedded in this package.
func Default() (*Registry, error) {
	return LoadFS(defaultTables, "tables/*.yaml")
}

// LoadYAML builds a registry from a single YAML document.
func LoadYAML(r io.Reader) (*Registry, error) {
	tf, err := decodeTableFile(r)
	if err != nil {
		return nil, err
	}

	specs, err := tf.specs()
	if err != nil {
		return nil, err
	}

	return NewRegistry(tf.Version, specs...)
}

// LoadFS builds a registry from every file in fsys matching pattern. A device
// type may only be defined by one file.
func LoadFS(fsys fs.FS, pattern string) (*Registry, error) {
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob mapping tables: %w", err)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no mapping tables match %q", pattern)
	}

	sort.Strings(matches)

	var versions []string
	var specs []TableSpec

	for _, path := range matches {
		f, err := fsys.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		tf, err := decodeTableFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		fileSpecs, err := tf.specs()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		specs = append(specs, fileSpecs...)

		if tf.Version != "" {
			versions = append(versions, tf.Version)
		}
	}

	return NewRegistry(strings.Join(uniqueSorted(versions), "+"), specs...)
}

func decodeTableFile(r io.Reader) (tableFile, error) {
	var tf tableFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&tf); err != nil {
		return tf, fmt.Errorf("parse mapping table: %w", err)
	}

	return tf, nil
}

func (tf tableFile) specs() ([]TableSpec, error) {
	names := make([]string, 0, len(tf.Tables))
	for n := range tf.Tables {
		names = append(names, n)
	}
	sort.Strings(names)

	specs := make([]TableSpec, 0, len(names))

	for _, n := range names {
		spec := TableSpec{DeviceType: DeviceType(n)}

		for _, row := range tf.Tables[n] {
			d, err := row.definition()
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", n, err)
			}

			spec.Definitions = append(spec.Definitions, d)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func uniqueSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string

	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	sort.Strings(out)
	return out
}
