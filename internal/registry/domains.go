package registry

import (
	"net/url"
	"strings"
)

// DomainIndex maps a base domain to the organization IDs whose start URL (or
// external_domain override) resolves to it. Multiple organizations sharing a
// domain is expected: school districts and counties often host plans on one
// state portal.
type DomainIndex map[string][]string

// OrgsFor returns the organizations attributed to host, falling back to the
// registrable-parent match so a visit on sites.example.gov still joins to an
// organization seeded at www.example.gov.
func (idx DomainIndex) OrgsFor(host string) []string {
	host = strings.ToLower(host)
	if ids, ok := idx[host]; ok {
		return ids
	}
	hostParent := RegistrableParent(host)
	if ids, ok := idx[hostParent]; ok {
		return ids
	}
	for domain, ids := range idx {
		parent := RegistrableParent(domain)
		if hostParent == parent || strings.HasSuffix(hostParent, "."+parent) {
			return ids
		}
	}
	return nil
}

// Add indexes one organization under a domain, keeping IDs unique.
func (idx DomainIndex) Add(domain, orgID string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || orgID == "" {
		return
	}
	for _, existing := range idx[domain] {
		if existing == orgID {
			return
		}
	}
	idx[domain] = append(idx[domain], orgID)
}

// BaseDomain extracts the net location of a URL, empty when unparseable.
func BaseDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// RegistrableParent strips a leading www label and any port so sibling hosts
// under the same parent compare equal.
func RegistrableParent(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}
