// Package schema obtains the column layout of a query before any row is read.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/typemap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var pgTypes = pgtype.NewMap()

// Column is one projected column with its source and target types.
type Column struct {
	Name     string
	OID      uint32
	Type     arrow.DataType
	Nullable bool
	Fallback bool
}

// ColumnSchema lists the columns of one export in projection order. It is
// fixed once introspected and every later stage follows it.
type ColumnSchema []Column

// Querier runs the zero-row probe. db.Session satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ProbeSQL wraps query so that it returns its result description and no rows.
// The newlines keep a trailing line comment in query from swallowing the
// wrapper.
func ProbeSQL(query string) string {
	return "SELECT * FROM (\n" + query + "\n) AS t LIMIT 0"
}

// Introspect runs the probe for query and maps every column with mapper.
func Introspect(ctx context.Context, q Querier, query string, mapper *typemap.Mapper) (ColumnSchema, error) {
	rows, err := q.Query(ctx, ProbeSQL(query))
	if err != nil {
		return nil, fmt.Errorf("%w: probing query: %w", errs.ErrSchema, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: probing query: %w", errs.ErrSchema, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: query returns no columns", errs.ErrSchema)
	}
	return FromFields(fields, mapper), nil
}

// FromFields maps a result description to a ColumnSchema.
func FromFields(fields []pgconn.FieldDescription, mapper *typemap.Mapper) ColumnSchema {
	cols := make(ColumnSchema, len(fields))
	for i, fd := range fields {
		m := mapper.Map(fd.DataTypeOID)
		cols[i] = Column{
			Name:     fd.Name,
			OID:      fd.DataTypeOID,
			Type:     m.Type,
			Nullable: true,
			Fallback: m.Fallback,
		}
	}
	return cols
}

// Arrow returns the Arrow schema every batch of the export must equal.
func (s ColumnSchema) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s))
	for i, c := range s {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// Fallbacks returns the columns whose source type is not in the type table.
func (s ColumnSchema) Fallbacks() []Column {
	var out []Column
	for _, c := range s {
		if c.Fallback {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the column names in order.
func (s ColumnSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// TypeName renders the PostgreSQL name of c's source type, or its OID when
// pgx does not know it.
func (c Column) TypeName() string {
	if t, ok := pgTypes.TypeForOID(c.OID); ok {
		return t.Name
	}
	return fmt.Sprintf("oid %d", c.OID)
}

func (s ColumnSchema) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	return strings.Join(parts, ", ")
}
