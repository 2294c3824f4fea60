// Package errs defines the failure categories of an export run.
//
// Failures caused by the connection settings, the query or the data wrap one
// of the sentinels below, so callers can classify them with errors.Is however
// much context was added on the way up. Local I/O failures on the output path
// and misuse of a finished sink wrap none and are reported as internal.
package errs

import "errors"

var (
	// ErrConfig reports a bad or ambiguous connection or export definition.
	// Nothing has been read or written when it is returned.
	ErrConfig = errors.New("configuration error")

	// ErrSchema reports a failed introspection probe or a batch whose columns
	// do not match the introspected schema.
	ErrSchema = errors.New("schema error")

	// ErrExtraction reports a failure while the server serialized the result
	// into the staging file.
	ErrExtraction = errors.New("extraction error")

	// ErrConversion reports staging text that cannot be converted to the
	// declared column type, or a malformed staging record.
	ErrConversion = errors.New("conversion error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrConfig, "config"},
	{ErrSchema, "schema"},
	{ErrExtraction, "extraction"},
	{ErrConversion, "conversion"},
}

// Kind returns a short name for the category of err, or "internal" when err
// does not wrap any known sentinel.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
