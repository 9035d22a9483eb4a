package crawler

import (
	"strings"

	"github.com/govscan/sbclocate/internal/registry"
)

// DomainSet is the containment boundary for one crawl batch: the registrable
// parents of every seed URL. A host is in scope when it equals a parent or is
// a subdomain of one, so www.auburn.edu and sites.auburn.edu share scope.
type DomainSet struct {
	parents map[string]struct{}
}

// NewDomainSet derives the set from seed URLs. Unparseable seeds contribute
// nothing.
func NewDomainSet(seedURLs ...string) *DomainSet {
	s := &DomainSet{parents: make(map[string]struct{}, len(seedURLs))}
	for _, u := range seedURLs {
		host := registry.BaseDomain(u)
		if host == "" {
			continue
		}
		s.parents[registry.RegistrableParent(host)] = struct{}{}
	}
	return s
}

// Contains reports whether host is inside the batch boundary.
func (s *DomainSet) Contains(host string) bool {
	parent := registry.RegistrableParent(host)
	if parent == "" {
		return false
	}
	if _, ok := s.parents[parent]; ok {
		return true
	}
	for p := range s.parents {
		if strings.HasSuffix(parent, "."+p) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct parent domains in scope.
func (s *DomainSet) Len() int { return len(s.parents) }
