// Package ballot holds the vote reconciliation rules: how a user's current
// selection is derived from their history, how selections are tallied, and
// how a single click toggles a selection for each ballot shape.
package ballot

import "errors"

// Kind is the declared shape of a ballot.
type Kind string

const (
	KindSingle   Kind = "single"
	KindMulti    Kind = "multi"
	KindDualSlot Kind = "dual-slot"
)

// Slot names a sub-category of a ballot. Single and multi ballots use SlotAll.
type Slot string

const (
	SlotAll   Slot = "all"
	SlotFive  Slot = "five"
	SlotSeven Slot = "seven"
)

var (
	ErrLimitReached = errors.New("selection limit reached")
	ErrNoCandidate  = errors.New("candidate id is required")
)

// Shape describes how selections on a ballot behave.
type Shape struct {
	Kind Kind
	// Limit caps a multi ballot. Zero means no cap.
	Limit int
	// Low and High are the two slots of a dual-slot ballot; candidates whose
	// capacity is at least SplitAt land in High.
	Low     Slot
	High    Slot
	SplitAt int
}

func Single() Shape {
	return Shape{Kind: KindSingle, Limit: 1}
}

func Multi(limit int) Shape {
	return Shape{Kind: KindMulti, Limit: limit}
}

func DualSlot(low, high Slot, splitAt int) Shape {
	return Shape{Kind: KindDualSlot, Low: low, High: high, SplitAt: splitAt}
}

// Slots lists the tally categories of the shape in display order.
func (s Shape) Slots() []Slot {
	if s.Kind == KindDualSlot {
		return []Slot{s.Low, s.High}
	}
	return []Slot{SlotAll}
}

// SlotFor picks the slot a candidate with the given capacity belongs to.
func (s Shape) SlotFor(capacity int) Slot {
	if s.Kind != KindDualSlot {
		return SlotAll
	}
	if capacity >= s.SplitAt {
		return s.High
	}
	return s.Low
}

// Empty is the shape's "nothing selected" value.
func (s Shape) Empty() Selection {
	if s.Kind == KindDualSlot {
		return Selection{Slots: map[Slot]string{s.Low: "", s.High: ""}}
	}
	return Selection{IDs: []string{}}
}

// Coerce reads sel through the shape: dual-slot ballots only look at their
// two slots, list ballots only at de-duplicated ids.
func (s Shape) Coerce(sel Selection) Selection {
	if s.Kind == KindDualSlot {
		out := s.Empty()
		for _, slot := range s.Slots() {
			out.Slots[slot] = sel.Slots[slot]
		}
		return out
	}
	ids := make([]string, 0, len(sel.IDs))
	seen := make(map[string]struct{}, len(sel.IDs))
	for _, id := range sel.IDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return Selection{IDs: ids}
}

// Candidate is what the toggle rule needs to know about a catalog entry.
type Candidate struct {
	ID       string
	Capacity int
}

// Selection is either an ordered id set (single and multi ballots) or one
// optional id per slot (dual-slot ballots). The ballot's Shape decides which
// half is meaningful.
type Selection struct {
	IDs   []string
	Slots map[Slot]string
}

// Picks is a list selection of ids.
func Picks(ids ...string) Selection {
	out := make([]string, len(ids))
	copy(out, ids)
	return Selection{IDs: out}
}

// IsEmpty reports whether nothing at all is selected, in either half.
func (s Selection) IsEmpty() bool {
	if len(s.IDs) > 0 {
		return false
	}
	for _, id := range s.Slots {
		if id != "" {
			return false
		}
	}
	return true
}

// Has reports whether id is selected in the id list or any slot.
func (s Selection) Has(id string) bool {
	for _, existing := range s.IDs {
		if existing == id {
			return true
		}
	}
	for _, existing := range s.Slots {
		if existing != "" && existing == id {
			return true
		}
	}
	return false
}

func (s Selection) clone() Selection {
	out := Selection{}
	if s.IDs != nil {
		out.IDs = append([]string{}, s.IDs...)
	}
	if s.Slots != nil {
		out.Slots = make(map[Slot]string, len(s.Slots))
		for slot, id := range s.Slots {
			out.Slots[slot] = id
		}
	}
	return out
}

// Snapshot is one timestamped selection in a user's history.
type Snapshot struct {
	Selection Selection
	// Timestamp is epoch milliseconds.
	Timestamp int64
}

// History is the append-only sequence of snapshots for one user and ballot.
type History []Snapshot

// Last returns the final snapshot, if any.
func (h History) Last() (Snapshot, bool) {
	if len(h) == 0 {
		return Snapshot{}, false
	}
	return h[len(h)-1], true
}
