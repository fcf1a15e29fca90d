package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	scans    map[string]*ScanRecord
	findings map[string][]report.Finding
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scans:    make(map[string]*ScanRecord),
		findings: make(map[string][]report.Finding),
	}
}

func (s *MemoryStore) SaveScan(ctx context.Context, scan *ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *scan
	s.scans[scan.ID] = &copied
	return nil
}

func (s *MemoryStore) GetScan(ctx context.Context, id string) (*ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *scan
	return &copied, nil
}

func (s *MemoryStore) LatestCompletedScan(ctx context.Context, accountID string) (*ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*ScanRecord
	for _, scan := range s.scans {
		if scan.AccountID == accountID && scan.Status == StatusCompleted {
			matches = append(matches, scan)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})
	copied := *matches[0]
	return &copied, nil
}

func (s *MemoryStore) CreateFindings(ctx context.Context, scanID string, findings []report.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[scanID] = append(s.findings[scanID], findings...)
	return nil
}

func (s *MemoryStore) FindingsByScan(ctx context.Context, scanID string) ([]report.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]report.Finding(nil), s.findings[scanID]...), nil
}

func (s *MemoryStore) ResolveFindings(ctx context.Context, scanID string, fingerprints []string, at time.Time) error {
	set := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	findings := s.findings[scanID]
	for i := range findings {
		if _, ok := set[findings[i].Fingerprint]; ok {
			stamped := at
			findings[i].ResolvedAt = &stamped
		}
	}
	return nil
}

// AllScans returns a copy of every scan row, ordered by start time.
func (s *MemoryStore) AllScans() []*ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ScanRecord, 0, len(s.scans))
	for _, scan := range s.scans {
		copied := *scan
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (s *MemoryStore) Close() error { return nil }
