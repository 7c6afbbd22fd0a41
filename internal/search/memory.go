package search

import (
	"sort"
	"strings"
	"sync"

	"quarters/api/internal/catalog"
)

// Memory matches case-insensitive substrings of nickname and summary. It is
// always healthy and serves as the fallback when Meilisearch is not.
type Memory struct {
	mu    sync.RWMutex
	items []catalog.Item
}

func NewMemory(items []catalog.Item) *Memory {
	m := &Memory{}
	m.Replace(items)
	return m
}

func (m *Memory) Replace(items []catalog.Item) {
	copied := make([]catalog.Item, len(items))
	copy(copied, items)
	sort.SliceStable(copied, func(i, j int) bool { return copied[i].ID < copied[j].ID })

	m.mu.Lock()
	m.items = copied
	m.mu.Unlock()
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, item := range m.items {
		if q.Kind != "" && item.Kind != q.Kind {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(item.Nickname), needle) &&
			!strings.Contains(strings.ToLower(item.Summary), needle) {
			continue
		}
		results = append(results, Result{
			ID:        item.ID,
			Kind:      item.Kind,
			Nickname:  item.Nickname,
			Snippet:   item.Summary,
			TotalCost: item.TotalCost,
			Seats:     item.Seats,
		})
	}

	total := len(results)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, total, nil
}
