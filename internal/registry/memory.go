package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and local dry runs. It
// implements the same patch-upsert and recomputed-aggregate semantics as the
// Postgres store.
type MemoryStore struct {
	mu         sync.Mutex
	orgs       map[string]Organization
	visits     []CrawlVisit
	documents  map[[2]string]Document
	checks     map[[2]string]Check
	exceptions map[string]CheckException
	failures   map[string]CrawlFailure
	seeds      map[string]map[int]SeedResult
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:       make(map[string]Organization),
		documents:  make(map[[2]string]Document),
		checks:     make(map[[2]string]Check),
		exceptions: make(map[string]CheckException),
		failures:   make(map[string]CrawlFailure),
		seeds:      make(map[string]map[int]SeedResult),
	}
}

// UpsertOrganization applies the patch contract in memory.
func (s *MemoryStore) UpsertOrganization(_ context.Context, patch OrganizationPatch) error {
	if patch.ID == "" {
		return fmt.Errorf("organization id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	org := s.orgs[patch.ID]
	org.ID = patch.ID
	s.orgs[patch.ID] = ApplyPatch(org, patch)
	return nil
}

// Organization returns one row.
func (s *MemoryStore) Organization(_ context.Context, orgID string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return Organization{}, fmt.Errorf("%w: %s", ErrNotFound, orgID)
	}
	return org, nil
}

// NextCrawlBatch returns unscraped organizations with start URLs.
func (s *MemoryStore) NextCrawlBatch(_ context.Context, limit int) ([]CrawlTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orgs))
	for id := range s.orgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var targets []CrawlTarget
	for _, id := range ids {
		org := s.orgs[id]
		if org.IsScraped || org.StartURL == nil {
			continue
		}
		targets = append(targets, CrawlTarget{OrgID: id, StartURL: *org.StartURL})
		if len(targets) == limit {
			break
		}
	}
	return targets, nil
}

// RecordVisits appends visit rows.
func (s *MemoryStore) RecordVisits(_ context.Context, visits []CrawlVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, visits...)
	return nil
}

// RecordDocuments appends document rows, ignoring duplicates.
func (s *MemoryStore) RecordDocuments(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		key := [2]string{d.OrgID, d.LocalPath}
		if _, exists := s.documents[key]; !exists {
			s.documents[key] = d
		}
	}
	return nil
}

// RecordCrawlFailures upserts failed URLs.
func (s *MemoryStore) RecordCrawlFailures(_ context.Context, failures []CrawlFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range failures {
		s.failures[f.URL] = f
	}
	return nil
}

// ListCrawlFailures returns recorded failures.
func (s *MemoryStore) ListCrawlFailures(_ context.Context) ([]CrawlFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CrawlFailure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// RecordChecks appends verdicts, first verdict wins.
func (s *MemoryStore) RecordChecks(_ context.Context, checks []Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range checks {
		key := [2]string{c.OrgID, c.LocalPath}
		if _, exists := s.checks[key]; !exists {
			s.checks[key] = c
		}
	}
	return nil
}

// RecordCheckExceptions appends exception rows, ignoring duplicates.
func (s *MemoryStore) RecordCheckExceptions(_ context.Context, exceptions []CheckException) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range exceptions {
		if _, exists := s.exceptions[e.LocalPath]; !exists {
			s.exceptions[e.LocalPath] = e
		}
	}
	return nil
}

// PendingChecks computes documents minus checks minus exceptions.
func (s *MemoryStore) PendingChecks(_ context.Context) ([]PendingDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []PendingDocument
	for key, d := range s.documents {
		if _, checked := s.checks[key]; checked {
			continue
		}
		if _, excepted := s.exceptions[d.LocalPath]; excepted {
			continue
		}
		pending = append(pending, PendingDocument{OrgID: d.OrgID, LocalPath: d.LocalPath})
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].OrgID != pending[j].OrgID {
			return pending[i].OrgID < pending[j].OrgID
		}
		return pending[i].LocalPath < pending[j].LocalPath
	})
	return pending, nil
}

// OrganizationsNeedingSeed returns organizations with no start URL and no
// external domain override.
func (s *MemoryStore) OrganizationsNeedingSeed(_ context.Context, limit int) ([]Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orgs))
	for id := range s.orgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var orgs []Organization
	for _, id := range ids {
		org := s.orgs[id]
		if org.StartURL != nil || org.ExternalDomain != nil {
			continue
		}
		orgs = append(orgs, org)
		if len(orgs) == limit {
			break
		}
	}
	return orgs, nil
}

// RecordSeedResults upserts ranked seed URLs.
func (s *MemoryStore) RecordSeedResults(_ context.Context, results []SeedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if s.seeds[r.OrgID] == nil {
			s.seeds[r.OrgID] = make(map[int]SeedResult)
		}
		s.seeds[r.OrgID][r.Rank] = r
	}
	return nil
}

// ApplySeedResults fills missing start URLs from rank-1 results.
func (s *MemoryStore) ApplySeedResults(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, org := range s.orgs {
		if org.StartURL != nil {
			continue
		}
		if seed, ok := s.seeds[id][1]; ok {
			url := seed.URL
			org.StartURL = &url
			org.IsQueriedSearch = true
			s.orgs[id] = org
		}
	}
	return nil
}

// AdvanceStartURL moves unscraped organizations to the rank-N seed URL.
func (s *MemoryStore) AdvanceStartURL(_ context.Context, rank int) error {
	if rank < 1 {
		return fmt.Errorf("rank must be >= 1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, org := range s.orgs {
		if org.IsScraped {
			continue
		}
		if seed, ok := s.seeds[id][rank]; ok {
			url := seed.URL
			org.StartURL = &url
			s.orgs[id] = org
		}
	}
	return nil
}

// RecomputeScrapeAggregates recounts visits per organization.
func (s *MemoryStore) RecomputeScrapeAggregates(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, v := range s.visits {
		counts[v.OrgID]++
	}
	for id, cnt := range counts {
		org, ok := s.orgs[id]
		if !ok {
			continue
		}
		org.NumScraped = cnt
		org.IsScraped = true
		s.orgs[id] = org
	}
	return nil
}

// RecomputeDocumentAggregates recounts distinct hashes per organization.
func (s *MemoryStore) RecomputeDocumentAggregates(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := make(map[string]map[string]struct{})
	for _, d := range s.documents {
		if hashes[d.OrgID] == nil {
			hashes[d.OrgID] = make(map[string]struct{})
		}
		hashes[d.OrgID][d.ContentHash] = struct{}{}
	}
	for id, set := range hashes {
		org, ok := s.orgs[id]
		if !ok {
			continue
		}
		org.PDFCount = len(set)
		s.orgs[id] = org
	}
	return nil
}

// RecomputeCheckAggregates recounts positive verdicts per organization.
func (s *MemoryStore) RecomputeCheckAggregates(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, c := range s.checks {
		if _, ok := counts[c.OrgID]; !ok {
			counts[c.OrgID] = 0
		}
		if c.IsSBC {
			counts[c.OrgID]++
		}
	}
	for id, cnt := range counts {
		org, ok := s.orgs[id]
		if !ok {
			continue
		}
		org.SBCCount = cnt
		s.orgs[id] = org
	}
	return nil
}

// DomainIndex builds the domain mapping from the in-memory rows.
func (s *MemoryStore) DomainIndex(_ context.Context) (DomainIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := make(DomainIndex)
	for id, org := range s.orgs {
		if org.StartURL != nil {
			idx.Add(BaseDomain(*org.StartURL), id)
		}
		if org.ExternalDomain != nil {
			idx.Add(*org.ExternalDomain, id)
		}
	}
	return idx, nil
}

var _ Store = (*MemoryStore)(nil)
