package crawler

import (
	"net/url"
	"strings"
)

// hostPatterns stores exact hosts and suffix wildcards derived from configuration.
type hostPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostPatterns(patterns []string) *hostPatterns {
	matcher := &hostPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		matcher.add(raw)
	}
	return matcher
}

func (h *hostPatterns) add(raw string) {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch {
	case value == "":
	case strings.HasPrefix(value, "*."):
		h.addSuffix(strings.TrimPrefix(value, "*."))
	case strings.HasPrefix(value, "."):
		h.addSuffix(strings.TrimPrefix(value, "."))
	default:
		h.exact[value] = struct{}{}
	}
}

func (h *hostPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range h.suffixes {
		if existing == suffix {
			return
		}
	}
	h.suffixes = append(h.suffixes, suffix)
}

// Matches reports whether host is listed exactly or falls under a wildcard.
func (h *hostPatterns) Matches(host string) bool {
	if h == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := h.exact[host]; exact {
		return true
	}
	for _, suffix := range h.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// exactHosts lists the non-wildcard entries in configuration order.
func exactHosts(patterns []string) []string {
	var out []string
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" || strings.HasPrefix(value, "*.") || strings.HasPrefix(value, ".") {
			continue
		}
		out = append(out, value)
	}
	return out
}

// scope decides which discovered links the web crawler may follow.
type scope struct {
	allowed      *hostPatterns
	blockedPaths []string
}

func newScope(allowedDomains, blockedPaths []string) *scope {
	s := &scope{allowed: newHostPatterns(allowedDomains)}
	for _, p := range blockedPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		s.blockedPaths = append(s.blockedPaths, p)
	}
	return s
}

// Allows reports whether u is on an allowed host and outside every blocked
// path prefix.
func (s *scope) Allows(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !s.allowed.Matches(u.Hostname()) {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, blocked := range s.blockedPaths {
		if strings.HasPrefix(path, blocked) {
			return false
		}
	}
	return true
}

// resolveURL resolves href against base and canonicalizes the result:
// lowercase scheme and host, default ports and fragments removed, query
// parameters sorted.
func resolveURL(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}
