package crawler

import "strings"

// TrustPolicy decides which hosts may be crawled for pages. Files are fetched
// from any host; pages only from the seed's organization or a trusted host.
type TrustPolicy struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewTrustPolicy builds a policy from host patterns. Entries may be exact
// hosts ("merolagani.com") or suffix wildcards ("*.gov.np", ".gov.np").
func NewTrustPolicy(patterns []string) *TrustPolicy {
	p := &TrustPolicy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *TrustPolicy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// IsTrusted reports whether host is on the configured allowlist.
func (p *TrustPolicy) IsTrusted(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowsPage reports whether a page on targetHost may be crawled from a page on
// seedHost: same host, a subdomain of it, or trusted.
func (p *TrustPolicy) AllowsPage(seedHost, targetHost string) bool {
	seedHost = strings.ToLower(seedHost)
	targetHost = strings.ToLower(targetHost)
	if targetHost == "" {
		return false
	}
	if targetHost == seedHost || strings.HasSuffix(targetHost, "."+seedHost) {
		return true
	}
	return p.IsTrusted(targetHost)
}
