package mapping

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrMissingCommon  = errors.New("registry has no common table")
	ErrCommonCoverage = errors.New("common table does not map " + BatteryCapability)
)

// TableSpec is the unresolved input for one device type.
type TableSpec struct {
	DeviceType  DeviceType
	Definitions []Definition
}

// Table is a resolved, immutable mapping table.
type Table struct {
	deviceType   DeviceType
	byID         map[uint8]Definition
	byCapability map[string][]uint8
	own          int
}

func (t *Table) DeviceType() DeviceType {
	return t.deviceType
}

// Lookup returns the definition for datapoint id.
func (t *Table) Lookup(id uint8) (Definition, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// LookupCapability returns the definition backing a capability, preferring
// Setting rows as those are the writable ones.
func (t *Table) LookupCapability(capability string) (Definition, bool) {
	ids := t.byCapability[capability]
	if len(ids) == 0 {
		return Definition{}, false
	}

	for _, id := range ids {
		if d := t.byID[id]; d.Role == Setting {
			return d, true
		}
	}

	return t.byID[ids[0]], true
}

// Definitions returns the table rows sorted by id.
func (t *Table) Definitions() []Definition {
	defs := make([]Definition, 0, len(t.byID))
	for _, d := range t.byID {
		defs = append(defs, d)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// OwnCount is the number of rows defined by this device type rather than
// inherited from Common.
func (t *Table) OwnCount() int {
	return t.own
}

// Registry holds the mapping tables for every known device type.
type Registry struct {
	version string
	tables  map[DeviceType]*Table
}

// NewRegistry validates and resolves specs into a Registry. Every specific table
// inherits the Common rows for ids it does not define.
func NewRegistry(version string, specs ...TableSpec) (*Registry, error) {
	byType := map[DeviceType]TableSpec{}

	for _, s := range specs {
		if s.DeviceType == "" {
			return nil, errors.New("table with empty device type")
		}

		if _, dup := byType[s.DeviceType]; dup {
			return nil, fmt.Errorf("duplicate table for device type: %s", s.DeviceType)
		}

		byType[s.DeviceType] = s
	}

	commonSpec, ok := byType[Common]
	if !ok {
		return nil, ErrMissingCommon
	}

	common, err := buildTable(Common, commonSpec.Definitions, nil)
	if err != nil {
		return nil, err
	}

	if _, ok := common.LookupCapability(BatteryCapability); !ok {
		return nil, ErrCommonCoverage
	}

	r := &Registry{
		version: version,
		tables:  map[DeviceType]*Table{Common: common},
	}

	for dt, s := range byType {
		if dt == Common {
			continue
		}

		t, err := buildTable(dt, s.Definitions, common)
		if err != nil {
			return nil, err
		}

		r.tables[dt] = t
	}

	return r, nil
}

func buildTable(dt DeviceType, defs []Definition, parent *Table) (*Table, error) {
	t := &Table{
		deviceType:   dt,
		byID:         make(map[uint8]Definition, len(defs)),
		byCapability: map[string][]uint8{},
		own:          len(defs),
	}

	for _, d := range defs {
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("table %s: duplicate datapoint id %d", dt, d.ID)
		}

		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", dt, err)
		}

		t.byID[d.ID] = d.clone()
	}

	if parent != nil {
		for id, d := range parent.byID {
			if _, overridden := t.byID[id]; !overridden {
				t.byID[id] = d
			}
		}
	}

	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		d := t.byID[uint8(id)]
		if d.Capability != "" {
			t.byCapability[d.Capability] = append(t.byCapability[d.Capability], d.ID)
		}
	}

	return t, nil
}

func (r *Registry) Version() string {
	return r.version
}

// Resolve returns the table for deviceType, or Common if there is none.
func (r *Registry) Resolve(deviceType DeviceType) *Table {
	if t, ok := r.tables[deviceType]; ok {
		return t
	}

	return r.tables[Common]
}

// Has reports whether a specific table exists for deviceType.
func (r *Registry) Has(deviceType DeviceType) bool {
	_, ok := r.tables[deviceType]
	return ok
}

// DeviceTypes lists the device types with tables, sorted.
func (r *Registry) DeviceTypes() []DeviceType {
	types := make([]DeviceType, 0, len(r.tables))
	for dt := range r.tables {
		types = append(types, dt)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
