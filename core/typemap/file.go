package typemap

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/jackc/pgx/v5/pgtype"
	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk form of a type table override.
//
//	version: site/v3
//	types:
//	  1700: utf8      # keep numeric exact as text
//	  2950: utf8
type tableFile struct {
	Version string            `yaml:"version"`
	Types   map[string]string `yaml:"types"`
}

// LoadTable reads a YAML or JSON override file and applies it on top of the
// default table. The file must name its own version.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read type map: %w", errs.ErrConfig, err)
	}
	return ParseTable(data)
}

// ParseTable decodes an override document; see LoadTable.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: type map is empty", errs.ErrConfig)
		}
		return nil, fmt.Errorf("%w: invalid type map: %w", errs.ErrConfig, err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("%w: type map must declare a version", errs.ErrConfig)
	}

	// JSON object keys are always strings, so OIDs are parsed by hand.
	names := make(map[uint32]string, len(f.Types))
	oids := make([]uint32, 0, len(f.Types))
	for key, name := range f.Types {
		oid, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: type map key %q is not an OID", errs.ErrConfig, key)
		}
		names[uint32(oid)] = name
		oids = append(oids, uint32(oid))
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	override := NewTable(f.Version)
	for _, oid := range oids {
		name := names[oid]
		if _, err := ParseType(name, DefaultZone); err != nil {
			return nil, fmt.Errorf("%w: type map oid %d: %w", errs.ErrConfig, oid, err)
		}
		override.Set(oid, name)
	}
	return DefaultTable().Merge(override), nil
}

// WriteTable renders t in the override file format, annotating each entry
// with the PostgreSQL type name when pgx knows it.
func WriteTable(w io.Writer, t *Table) error {
	types := pgtype.NewMap()

	entries := &yaml.Node{Kind: yaml.MappingNode}
	for oid, name := range t.Entries() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(uint64(oid), 10)}
		val := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
		if pt, ok := types.TypeForOID(oid); ok {
			val.LineComment = pt.Name
		}
		entries.Content = append(entries.Content, key, val)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "version"},
		{Kind: yaml.ScalarNode, Value: t.Version},
		{Kind: yaml.ScalarNode, Value: "types"},
		entries,
	}}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("error writing type map: %w", err)
	}
	return enc.Close()
}
