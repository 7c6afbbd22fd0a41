// Package catalog is the fixed list of houses and rental cars people vote on.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-yaml/yaml"

	"quarters/api/internal/ballot"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Kind string

const (
	KindHouse Kind = "house"
	KindCar   Kind = "car"
)

type Item struct {
	ID        string  `yaml:"id" json:"id"`
	Kind      Kind    `yaml:"-" json:"kind"`
	Nickname  string  `yaml:"nickname" json:"nickname"`
	Summary   string  `yaml:"summary" json:"summary"`
	URL       string  `yaml:"url" json:"url"`
	Image     string  `yaml:"image" json:"image"`
	TotalCost float64 `yaml:"totalCost" json:"totalCost"`
	Seats     int     `yaml:"seats,omitempty" json:"seats,omitempty"`
	Bags      int     `yaml:"bags,omitempty" json:"bags,omitempty"`
}

type file struct {
	Houses []Item `yaml:"houses"`
	Cars   []Item `yaml:"cars"`
}

// Catalog is immutable once loaded.
type Catalog struct {
	items []Item
	byID  map[string]Item
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path means the default catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{byID: map[string]Item{}}
	add := func(kind Kind, items []Item) error {
		for _, item := range items {
			item.ID = strings.TrimSpace(item.ID)
			if item.ID == "" {
				return errors.New("catalog item without id")
			}
			if _, dup := c.byID[item.ID]; dup {
				return fmt.Errorf("duplicate catalog id %q", item.ID)
			}
			if item.TotalCost < 0 {
				return fmt.Errorf("catalog item %q has negative cost", item.ID)
			}
			item.Kind = kind
			c.items = append(c.items, item)
			c.byID[item.ID] = item
		}
		return nil
	}
	if err := add(KindHouse, f.Houses); err != nil {
		return nil, err
	}
	if err := add(KindCar, f.Cars); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) All() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// ByKind returns the items of one kind sorted by id.
func (c *Catalog) ByKind(kind Kind) []Item {
	out := []Item{}
	for _, item := range c.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Lookup(id string) (Item, bool) {
	item, ok := c.byID[id]
	return item, ok
}

// Candidate converts a catalog id into a ballot candidate. Unknown ids are
// still candidates, with capacity 0.
func (c *Catalog) Candidate(id string) ballot.Candidate {
	item, ok := c.byID[id]
	if !ok {
		return ballot.Candidate{ID: id}
	}
	return ballot.Candidate{ID: item.ID, Capacity: item.Seats}
}

// Candidates lists the ballot candidates of one kind.
func (c *Catalog) Candidates(kind Kind) []ballot.Candidate {
	items := c.ByKind(kind)
	out := make([]ballot.Candidate, len(items))
	for i, item := range items {
		out[i] = ballot.Candidate{ID: item.ID, Capacity: item.Seats}
	}
	return out
}
