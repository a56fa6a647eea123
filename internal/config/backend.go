package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ToBackendURI resolves the backend URL a request should be forwarded to,
// per spec §6:
//  1. if host byte-equals some configured endpoint's host, use that
//     endpoint's base URL;
//  2. otherwise fall back to FallBackEndpoint;
//  3. join with pathAndQuery and collapse any "//" run to "/", except the
//     scheme's "://";
//  4. parse the result, returning an error on failure so the caller can
//     translate it to a request-time 500 rather than panicking.
func (c *Config) ToBackendURI(pathAndQuery, host string) (string, error) {
	base := c.FallBackEndpoint
	for _, e := range c.Endpoints {
		if e.Host == host {
			base = e.BaseURL
			break
		}
	}

	joined := base + pathAndQuery
	collapsed := collapseSlashes(joined)

	parsed, err := url.Parse(collapsed)
	if err != nil {
		return "", fmt.Errorf("resolve backend uri: %w", err)
	}
	return parsed.String(), nil
}

// collapseSlashes collapses consecutive "/" runs to a single "/", except
// within the first "://" (the scheme separator). This matches spec §6
// step 3. The collapse covers the whole string, query included, so a "//"
// inside the query string (e.g. a URL-valued parameter) is collapsed too.
func collapseSlashes(s string) string {
	schemeEnd := strings.Index(s, "://")
	var prefix, rest string
	if schemeEnd >= 0 {
		prefix = s[:schemeEnd+3]
		rest = s[schemeEnd+3:]
	} else {
		rest = s
	}

	var b strings.Builder
	b.Grow(len(rest))
	prevSlash := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		if ch == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(ch)
	}
	return prefix + b.String()
}
