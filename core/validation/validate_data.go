package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/fbz-tec/pg2parquet/core/errs"
)

// ValidateTimeZone checks that zone names a loadable IANA location.
// Empty is valid and means UTC.
func ValidateTimeZone(zone string) error {
	if zone == "" {
		return nil
	}

	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("%w: invalid timezone %q: %w", errs.ErrConfig, zone, err)
	}
	return nil
}

// ValidateOutputPath rejects destinations that can never be written: an
// empty path, an existing directory, or a parent that exists as a file.
func ValidateOutputPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: output path cannot be empty", errs.ErrConfig)
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("%w: output path %q is a directory", errs.ErrConfig, path)
	}

	if info, err := os.Stat(filepath.Dir(path)); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: parent of %q is not a directory", errs.ErrConfig, path)
	}
	return nil
}

// ValidatePositive rejects zero and negative sizes.
func ValidatePositive(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", errs.ErrConfig, name, v)
	}
	return nil
}
