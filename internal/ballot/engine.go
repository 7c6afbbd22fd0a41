package ballot

// Counts maps candidate id to vote count.
type Counts map[string]int

// Tally holds counts per slot. List ballots only populate SlotAll.
type Tally map[Slot]Counts

// Counts returns the counts for slot, never nil.
func (t Tally) Counts(slot Slot) Counts {
	if counts, ok := t[slot]; ok && counts != nil {
		return counts
	}
	return Counts{}
}

// LatestSelection is the selection of the last snapshot in h, read through
// shape, or the shape's empty selection when h is empty.
func LatestSelection(h History, shape Shape) Selection {
	last, ok := h.Last()
	if !ok {
		return shape.Empty()
	}
	return shape.Coerce(last.Selection)
}

// ComputeTally counts every candidate present in each user's latest
// selection. Ties are left as raw counts.
func ComputeTally(histories map[string]History, shape Shape) Tally {
	tally := make(Tally, 2)
	for _, slot := range shape.Slots() {
		tally[slot] = Counts{}
	}

	for _, history := range histories {
		current := LatestSelection(history, shape)
		if shape.Kind == KindDualSlot {
			for _, slot := range shape.Slots() {
				if id := current.Slots[slot]; id != "" {
					tally[slot][id]++
				}
			}
			continue
		}
		for _, id := range current.IDs {
			tally[SlotAll][id]++
		}
	}
	return tally
}

// Toggle applies one click on candidate to current and returns the next
// selection. On ErrLimitReached the returned selection equals current.
func Toggle(current Selection, candidate Candidate, shape Shape) (Selection, error) {
	if candidate.ID == "" {
		return current, ErrNoCandidate
	}
	current = shape.Coerce(current)

	switch shape.Kind {
	case KindDualSlot:
		next := current.clone()
		slot := shape.SlotFor(candidate.Capacity)
		if next.Slots[slot] == candidate.ID {
			next.Slots[slot] = ""
		} else {
			next.Slots[slot] = candidate.ID
		}
		return next, nil

	case KindSingle:
		if current.Has(candidate.ID) {
			return Selection{IDs: []string{}}, nil
		}
		return Picks(candidate.ID), nil

	default:
		if current.Has(candidate.ID) {
			next := make([]string, 0, len(current.IDs))
			for _, id := range current.IDs {
				if id != candidate.ID {
					next = append(next, id)
				}
			}
			return Selection{IDs: next}, nil
		}
		if shape.Limit > 0 && len(current.IDs) >= shape.Limit {
			return current, ErrLimitReached
		}
		return Picks(append(current.IDs, candidate.ID)...), nil
	}
}
