package search

import "quarters/api/internal/catalog"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string       `json:"id"`
	Kind      catalog.Kind `json:"kind"`
	Nickname  string       `json:"nickname"`
	Snippet   string       `json:"snippet"`
	TotalCost float64      `json:"totalCost"`
	Seats     int          `json:"seats,omitempty"`
}

// Query describes a search request. An empty Text lists everything of Kind.
type Query struct {
	Text  string
	Kind  catalog.Kind // empty = all kinds
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a catalog search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a catalog item.
type Record struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Nickname  string  `json:"nickname"`
	Summary   string  `json:"summary"`
	TotalCost float64 `json:"totalCost"`
	Seats     int     `json:"seats"`
}

func recordFor(item catalog.Item) Record {
	return Record{
		ID:        item.ID,
		Kind:      string(item.Kind),
		Nickname:  item.Nickname,
		Summary:   item.Summary,
		TotalCost: item.TotalCost,
		Seats:     item.Seats,
	}
}
