package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fbz-tec/pg2parquet/core/errs"
	"gopkg.in/yaml.v3"
)

// ExportSpec is one (query, destination) pair of a run. RowGroupSize 0 means
// the run default applies.
type ExportSpec struct {
	SQL          string
	Out          string
	RowGroupSize int64
}

func (s ExportSpec) String() string {
	return s.Out
}

type batchEntry struct {
	SQL          string `yaml:"sql"`
	Out          string `yaml:"out"`
	RowGroupSize *int64 `yaml:"row_group_size"`
}

// LoadBatch reads a YAML or JSON batch file: a list of export specs that
// share one transaction.
//
//	- sql: SELECT * FROM orders
//	  out: orders.parquet
//	- sql: SELECT * FROM customers
//	  out: customers.parquet
//	  row_group_size: 250000
func LoadBatch(path string) ([]ExportSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read batch file: %w", errs.ErrConfig, err)
	}
	return ParseBatch(data)
}

// ParseBatch decodes and validates a batch document; see LoadBatch.
func ParseBatch(data []byte) ([]ExportSpec, error) {
	var raw []batchEntry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: batch file is empty", errs.ErrConfig)
		}
		return nil, fmt.Errorf("%w: invalid batch file: %w", errs.ErrConfig, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: batch file contains no exports", errs.ErrConfig)
	}

	specs := make([]ExportSpec, len(raw))
	seen := make(map[string]int, len(raw))
	for i, e := range raw {
		s := &specs[i]
		s.SQL = strings.TrimSpace(e.SQL)
		s.Out = strings.TrimSpace(e.Out)

		if s.SQL == "" {
			return nil, fmt.Errorf("%w: export #%d: sql is required", errs.ErrConfig, i+1)
		}
		if s.Out == "" {
			return nil, fmt.Errorf("%w: export #%d: out is required", errs.ErrConfig, i+1)
		}
		if e.RowGroupSize != nil {
			if *e.RowGroupSize <= 0 {
				return nil, fmt.Errorf("%w: export #%d: row_group_size must be positive, got %d", errs.ErrConfig, i+1, *e.RowGroupSize)
			}
			s.RowGroupSize = *e.RowGroupSize
		}

		key := filepath.Clean(s.Out)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: export #%d: out %q already used by export #%d", errs.ErrConfig, i+1, s.Out, prev)
		}
		seen[key] = i + 1
	}
	return specs, nil
}
