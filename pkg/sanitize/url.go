// Package sanitize strips credentials from values before they are logged.
package sanitize

import (
	"net/url"
	"strings"
)

// Placeholder replaces every query parameter value.
const Placeholder = "..."

// URL returns raw with the userinfo removed and every query value replaced
// by Placeholder. Parameter names and their order are kept.
// URL never fails: a value that cannot be parsed is reduced to its
// scheme and host when possible, otherwise to the part before any '?'
// with the userinfo dropped.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fallback(raw)
	}

	if u.Host == "" {
		// without an authority the userinfo ends up in the opaque part or the path
		out := fallback(raw)
		if q := maskQuery(u.RawQuery); q != "" {
			out += "?" + q
		}
		return out
	}

	u.User = nil
	u.RawQuery = maskQuery(u.RawQuery)
	u.ForceQuery = false
	// fragments may carry tokens in implicit OAuth flows
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// maskQuery keeps the parameter names of a raw query in their original
// order. url.ParseQuery is not used since it returns a map.
func maskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var names []string
	for part := range strings.SplitSeq(rawQuery, "&") {
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		if name == "" {
			continue
		}
		if un, err := url.QueryUnescape(name); err == nil {
			name = url.QueryEscape(un)
		} else {
			// malformed escape: keep nothing from this pair
			continue
		}
		names = append(names, name+"="+Placeholder)
	}
	return strings.Join(names, "&")
}

func fallback(raw string) string {
	s, _, _ := strings.Cut(raw, "?")
	s, _, _ = strings.Cut(s, "#")

	scheme := ""
	if before, after, ok := strings.Cut(s, "://"); ok {
		scheme = before + "://"
		s = after
	}
	host, path, hasPath := strings.Cut(s, "/")
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if hasPath {
		return scheme + host + "/" + path
	}
	return scheme + host
}
