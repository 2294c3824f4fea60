package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/fbz-tec/pg2parquet/core/errs"
)

// keywordValues is a libpq keyword/value connection string that keeps the
// order in which keywords were given.
type keywordValues struct {
	m *orderedmap.OrderedMap[string, string]
}

func newKeywordValues() keywordValues {
	return keywordValues{m: orderedmap.NewOrderedMap[string, string]()}
}

func (kv keywordValues) set(key, value string) { kv.m.Set(key, value) }

func (kv keywordValues) get(key string) (string, bool) { return kv.m.Get(key) }

func (kv keywordValues) String() string {
	parts := make([]string, 0, kv.m.Len())
	for k, v := range kv.m.AllFromFront() {
		parts = append(parts, k+"="+quoteValue(v))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\n\r'\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// parseKeywordValues parses "host=a port=5432 options='-c x=y'".
func parseKeywordValues(s string) (keywordValues, error) {
	kv := newKeywordValues()
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return kv, nil
		}

		start := i
		for i < len(s) && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := s[start:i]
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if key == "" || i >= len(s) || s[i] != '=' {
			return kv, fmt.Errorf("missing \"=\" after %q", key)
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}

		var val strings.Builder
		if i < len(s) && s[i] == '\'' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					val.WriteByte(s[i+1])
					i += 2
					continue
				}
				i++
				if c == '\'' {
					closed = true
					break
				}
				val.WriteByte(c)
			}
			if !closed {
				return kv, fmt.Errorf("unterminated quoted value for %q", key)
			}
		} else {
			for i < len(s) && !isSpace(s[i]) {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				val.WriteByte(s[i])
				i++
			}
		}
		kv.set(key, val.String())
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func appendOption(existing string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return PrecisionOption
	}
	return existing + " " + PrecisionOption
}

// WithPrecision injects PrecisionOption into the options startup parameter of
// a URL or keyword/value connection string. A string that already sets
// extra_float_digits is returned unchanged.
func WithPrecision(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.Contains(dsn, "extra_float_digits") {
		return dsn, nil
	}

	if isURL(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("%w: invalid connection URL: %w", errs.ErrConfig, err)
		}
		q := u.Query()
		q.Set("options", appendOption(q.Get("options")))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	kv, err := parseKeywordValues(dsn)
	if err != nil {
		return "", fmt.Errorf("%w: invalid connection string: %w", errs.ErrConfig, err)
	}
	existing, _ := kv.get("options")
	kv.set("options", appendOption(existing))
	return kv.String(), nil
}

// Sanitize masks the password of a connection string before logging.
func Sanitize(dsn string) string {
	if isURL(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<invalid-dsn>"
		}

		var userInfo string
		if u.User != nil {
			username := u.User.Username()
			if _, hasPwd := u.User.Password(); hasPwd {
				userInfo = fmt.Sprintf("%s:***@", username)
			} else {
				userInfo = fmt.Sprintf("%s@", username)
			}
		}

		path := u.Path
		if path == "" {
			path = "/"
		}
		return fmt.Sprintf("%s://%s%s%s", u.Scheme, userInfo, u.Host, path)
	}

	kv, err := parseKeywordValues(dsn)
	if err != nil {
		return "<invalid-dsn>"
	}
	if _, ok := kv.get("password"); ok {
		kv.set("password", "***")
	}
	return kv.String()
}
