package store

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"mc_cid": {},
	"mc_eid": {},
	"igshid": {},
	"ref":    {},
}

// Canonicalize normalises a URL so equivalent forms compare equal:
// lowercase scheme and host, default ports and trailing slash stripped,
// fragment dropped, tracking query parameters removed.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonicalize %q: missing host", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(scheme) {
		host += ":" + port
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	canonical := scheme + "://" + host + path
	if query := cleanQuery(u.Query()); query != "" {
		canonical += "?" + query
	}
	return canonical, nil
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			continue
		}
		if _, tracking := trackingParams[lower]; tracking {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		for _, val := range values[key] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(val))
		}
	}
	return sb.String()
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
