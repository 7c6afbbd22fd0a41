package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"quarters/api/internal/store"
)

const groceryList = "grocery"

type Category string

const (
	CategoryAlcohol   Category = "alcohol"
	CategorySnack     Category = "snack"
	CategoryFruit     Category = "fruit"
	CategoryDrink     Category = "drink"
	CategoryMeat      Category = "meat"
	CategoryVegetable Category = "vegetable"
	CategoryOther     Category = "other"
)

var alcoholKeywords = []string{
	"vodka", "rum", "whiskey", "tequila", "bourbon", "brandy",
	"ciroc", "don julio", "casamigos", "jack daniels", "patron",
	"fireball", "tito", "hennessy", "jameson", "grey goose",
	"bacardi", "crown royal", "1800", "svedka", "e&j",
}

// categoryKeywords is checked in order; the first match wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryAlcohol, alcoholKeywords},
	{CategorySnack, []string{"chip", "snack"}},
	{CategoryFruit, []string{"fruit", "banana", "berry"}},
	{CategoryDrink, []string{"drink", "juice", "water"}},
	{CategoryMeat, []string{"meat", "chicken"}},
	{CategoryVegetable, []string{"veg", "salad"}},
}

// Categorize files an item name under the first category whose keyword it
// contains.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				return entry.category
			}
		}
	}
	return CategoryOther
}

type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Bought   bool     `json:"bought"`
	AddedBy  string   `json:"addedBy"`
	AddedAt  int64    `json:"addedAt"`
	Category Category `json:"category,omitempty"`
}

// Filter narrows Items. Alcohol is hidden unless IncludeAlcohol is set, even
// when Category asks for it.
type Filter struct {
	Category       Category
	IncludeAlcohol bool
}

func (f Filter) match(item Item) bool {
	if item.Category == CategoryAlcohol && !f.IncludeAlcohol {
		return false
	}
	return f.Category == "" || f.Category == item.Category
}

// AddItem adds an item to the user's share of the grocery list. A zero
// quantity means one.
func (l *Lists) AddItem(ctx context.Context, key, name string, quantity int) (Item, error) {
	if key == "" {
		return Item{}, ErrNoIdentity
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, ErrEmptyText
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return Item{}, ErrInvalidQuantity
	}

	item := Item{
		ID:       uuid.NewString(),
		Name:     name,
		Quantity: quantity,
		AddedBy:  key,
		AddedAt:  l.now().UnixMilli(),
	}
	err := l.kv.Modify(ctx, listPath(groceryList, key), func(current json.RawMessage, found bool) (json.RawMessage, error) {
		return json.Marshal(append(decodeItems(current), item))
	})
	if err != nil {
		return Item{}, fmt.Errorf("add grocery item: %w", err)
	}
	item.Category = Categorize(item.Name)
	return item, nil
}

// Items returns the shared grocery list in the order items were added.
func (l *Lists) Items(ctx context.Context, filter Filter) ([]Item, error) {
	raw, err := l.kv.Children(ctx, store.Join(root, groceryList))
	if err != nil {
		return nil, fmt.Errorf("read grocery list: %w", err)
	}
	out := []Item{}
	for _, value := range raw {
		for _, item := range decodeItems(value) {
			item.Category = Categorize(item.Name)
			if filter.match(item) {
				out = append(out, item)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt < out[j].AddedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetBought marks any user's item bought or not; the list is shared.
func (l *Lists) SetBought(ctx context.Context, id string, bought bool) (Item, error) {
	var updated Item
	err := l.modifyItem(ctx, id, func(items []Item, i int) []Item {
		items[i].Bought = bought
		updated = items[i]
		return items
	})
	if err != nil {
		return Item{}, err
	}
	updated.Category = Categorize(updated.Name)
	return updated, nil
}

func (l *Lists) DeleteItem(ctx context.Context, id string) error {
	return l.modifyItem(ctx, id, func(items []Item, i int) []Item {
		return append(items[:i:i], items[i+1:]...)
	})
}

// modifyItem finds the owner of id and rewrites their list atomically.
func (l *Lists) modifyItem(ctx context.Context, id string, edit func(items []Item, i int) []Item) error {
	raw, err := l.kv.Children(ctx, store.Join(root, groceryList))
	if err != nil {
		return fmt.Errorf("read grocery list: %w", err)
	}
	owner := ""
	for key, value := range raw {
		if indexOf(decodeItems(value), id) >= 0 {
			owner = key
			break
		}
	}
	if owner == "" {
		return ErrItemNotFound
	}

	err = l.kv.Modify(ctx, listPath(groceryList, owner), func(current json.RawMessage, found bool) (json.RawMessage, error) {
		items := decodeItems(current)
		i := indexOf(items, id)
		if i < 0 {
			return nil, ErrItemNotFound
		}
		items = edit(items, i)
		if len(items) == 0 {
			return nil, nil
		}
		return json.Marshal(items)
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("update grocery item: %w", err)
	}
	return nil
}

func indexOf(items []Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func decodeItems(raw json.RawMessage) []Item {
	var items []Item
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []Item{}
	}
	return items
}
