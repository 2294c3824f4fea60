// Package typemap resolves PostgreSQL type OIDs to Arrow column types.
//
// The mapping is data, not code: a Table is an ordered, versioned set of
// OID -> type name entries that callers build, extend or load from a file and
// hand to NewMapper. Conversion code only ever sees the resolved arrow.DataType.
package typemap

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/elliotchance/orderedmap/v3"
	"github.com/fbz-tec/pg2parquet/core/errs"
)

const (
	// DefaultVersion identifies the built-in table. Bump it whenever an entry
	// of DefaultTable changes: files written with a different table may carry
	// different column types for the same query.
	DefaultVersion = "pg-arrow/v1"

	// FallbackName is the type used for every OID the table does not cover.
	FallbackName = "utf8"

	// DefaultZone labels zoned timestamps when no zone is configured.
	DefaultZone = "UTC"
)

// PostgreSQL type OIDs covered by the default table.
const (
	OIDBool        uint32 = 16
	OIDName        uint32 = 19
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDJSON        uint32 = 114
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDBPChar      uint32 = 1042
	OIDVarchar     uint32 = 1043
	OIDDate        uint32 = 1082
	OIDTime        uint32 = 1083
	OIDTimestamp   uint32 = 1114
	OIDTimestamptz uint32 = 1184
	OIDNumeric     uint32 = 1700
	OIDJSONB       uint32 = 3802
)

// Table is an ordered, versioned OID -> type name mapping.
type Table struct {
	Version string
	entries *orderedmap.OrderedMap[uint32, string]
}

// NewTable returns an empty table.
func NewTable(version string) *Table {
	return &Table{
		Version: version,
		entries: orderedmap.NewOrderedMap[uint32, string](),
	}
}

// DefaultTable returns a fresh copy of the built-in mapping.
//
// numeric is mapped to float64, which is lossy for values with more than ~15
// significant digits. interval, uuid, bytea, arrays and every other type not
// listed here fall back to utf8 and keep PostgreSQL's text rendering.
func DefaultTable() *Table {
	return NewTable(DefaultVersion).
		Set(OIDBool, "bool").
		Set(OIDInt8, "int64").
		Set(OIDInt2, "int16").
		Set(OIDInt4, "int32").
		Set(OIDFloat4, "float32").
		Set(OIDFloat8, "float64").
		Set(OIDNumeric, "float64").
		Set(OIDText, "utf8").
		Set(OIDVarchar, "utf8").
		Set(OIDBPChar, "utf8").
		Set(OIDName, "utf8").
		Set(OIDJSON, "utf8").
		Set(OIDJSONB, "utf8").
		Set(OIDDate, "date32").
		Set(OIDTime, "time64[us]").
		Set(OIDTimestamp, "timestamp[us]").
		Set(OIDTimestamptz, "timestamp[us, tz]")
}

// Set adds or replaces the entry for oid and returns the table.
func (t *Table) Set(oid uint32, name string) *Table {
	t.entries.Set(oid, strings.TrimSpace(name))
	return t
}

// Lookup returns the type name registered for oid.
func (t *Table) Lookup(oid uint32) (string, bool) {
	return t.entries.Get(oid)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Entries iterates over the table in insertion order.
func (t *Table) Entries() iter.Seq2[uint32, string] {
	return t.entries.AllFromFront()
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	return &Table{Version: t.Version, entries: t.entries.Copy()}
}

// Merge applies every entry of other on top of t. Entries of t that other
// does not mention are kept. The version becomes other's version.
func (t *Table) Merge(other *Table) *Table {
	for oid, name := range other.Entries() {
		t.Set(oid, name)
	}
	if other.Version != "" {
		t.Version = other.Version
	}
	return t
}

// Mapping is the resolved target of one OID.
type Mapping struct {
	OID      uint32
	Name     string
	Type     arrow.DataType
	Fallback bool
}

// Mapper resolves OIDs against a validated table.
type Mapper struct {
	version  string
	zone     string
	types    map[uint32]Mapping
	fallback arrow.DataType
}

// NewMapper validates every entry of table and returns a mapper that labels
// zoned timestamps with zone (DefaultZone when empty).
func NewMapper(table *Table, zone string) (*Mapper, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: type table is nil", errs.ErrConfig)
	}
	if strings.TrimSpace(table.Version) == "" {
		return nil, fmt.Errorf("%w: type table has no version", errs.ErrConfig)
	}
	zone = strings.TrimSpace(zone)
	if zone == "" {
		zone = DefaultZone
	}

	m := &Mapper{
		version:  table.Version,
		zone:     zone,
		types:    make(map[uint32]Mapping, table.Len()),
		fallback: arrow.BinaryTypes.String,
	}
	for oid, name := range table.Entries() {
		dt, err := ParseType(name, zone)
		if err != nil {
			return nil, fmt.Errorf("%w: type table %s, oid %d: %w", errs.ErrConfig, table.Version, oid, err)
		}
		m.types[oid] = Mapping{OID: oid, Name: name, Type: dt}
	}
	return m, nil
}

// Map resolves oid. OIDs missing from the table resolve to utf8 with
// Fallback set; this is never an error.
func (m *Mapper) Map(oid uint32) Mapping {
	if mp, ok := m.types[oid]; ok {
		return mp
	}
	return Mapping{OID: oid, Name: FallbackName, Type: m.fallback, Fallback: true}
}

// Version returns the version of the table the mapper was built from.
func (m *Mapper) Version() string { return m.version }

// Zone returns the zone label applied to zoned timestamps.
func (m *Mapper) Zone() string { return m.zone }

// OIDs returns the mapped OIDs in ascending order.
func (m *Mapper) OIDs() []uint32 {
	oids := make([]uint32, 0, len(m.types))
	for oid := range m.types {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	return oids
}

// ParseType turns a type name into an Arrow type. "timestamp[us, tz]" takes
// the given zone; "timestamp[us, tz=<zone>]" pins its own.
func ParseType(name, zone string) (arrow.DataType, error) {
	n := strings.TrimSpace(name)
	switch strings.ToLower(n) {
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "utf8", "string":
		return arrow.BinaryTypes.String, nil
	case "date32":
		return arrow.FixedWidthTypes.Date32, nil
	case "time64[us]":
		return arrow.FixedWidthTypes.Time64us, nil
	case "timestamp[us]":
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case "timestamp[us, tz]", "timestamp[us,tz]":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: zone}, nil
	}

	if rest, ok := strings.CutPrefix(n, "timestamp[us,"); ok {
		rest = strings.TrimSpace(rest)
		if tz, ok := strings.CutPrefix(rest, "tz="); ok {
			tz = strings.TrimSpace(strings.TrimSuffix(tz, "]"))
			if tz != "" && strings.HasSuffix(rest, "]") {
				return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: tz}, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown type name %q", name)
}
