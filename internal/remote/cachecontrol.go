package remote

import (
	"strconv"
	"strings"
	"time"
)

// CacheControl is the parsed directive set of a Cache-Control header.
// Directive names are lowercased; valueless directives map to "".
type CacheControl map[string]string

// ParseCacheControl tokenizes a Cache-Control header value into its
// directives. Quoted values are unquoted; malformed pieces are skipped.
func ParseCacheControl(header string) CacheControl {
	cc := make(CacheControl)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		cc[name] = value
	}
	return cc
}

// NoStore reports whether the response must not be persisted.
func (cc CacheControl) NoStore() bool {
	_, ok := cc["no-store"]
	return ok
}

// MaxAge returns the freshness lifetime, preferring s-maxage over max-age.
// ok is false when neither directive carries a valid non-negative value.
func (cc CacheControl) MaxAge() (time.Duration, bool) {
	for _, name := range []string{"s-maxage", "max-age"} {
		v, ok := cc[name]
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			continue
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
