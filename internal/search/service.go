package search

import (
	log "github.com/sirupsen/logrus"

	"quarters/api/internal/catalog"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory matcher.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, memory *Memory) *Service {
	if memory == nil {
		memory = NewMemory(nil)
	}
	return &Service{meili: meili, memory: memory}
}

// Search tries Meilisearch if healthy, otherwise falls back to memory.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("search: memory error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCatalog refreshes the fallback and pushes every item to Meilisearch.
// Called during bootstrap.
func (s *Service) IndexCatalog(items []catalog.Item) {
	s.memory.Replace(items)
	if s.meili == nil || !s.meili.Healthy() || len(items) == 0 {
		return
	}
	records := make([]Record, len(items))
	for i, item := range items {
		records[i] = recordFor(item)
	}
	if err := s.meili.IndexRecords(records); err != nil {
		log.Printf("search: index catalog: %v", err)
	}
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
