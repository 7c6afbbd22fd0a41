package ballot

import (
	"encoding/json"
	"fmt"
	"math"
)

// Snapshots are stored flat: list ballots as {"ids": [...], "timestamp": n}
// and dual-slot ballots as {"five": "c1", "seven": null, "timestamp": n}.

func (s Selection) fields() map[string]any {
	out := make(map[string]any, 2)
	if s.Slots != nil {
		for slot, id := range s.Slots {
			if id == "" {
				out[string(slot)] = nil
				continue
			}
			out[string(slot)] = id
		}
		if len(s.IDs) == 0 {
			return out
		}
	}
	ids := s.IDs
	if ids == nil {
		ids = []string{}
	}
	out["ids"] = ids
	return out
}

func parseSelection(data []byte) (Selection, map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Selection{}, nil, fmt.Errorf("decode selection: %w", err)
	}
	if raw == nil {
		return Selection{}, nil, fmt.Errorf("decode selection: not an object")
	}

	var sel Selection
	for key, value := range raw {
		switch key {
		case "timestamp":
			continue
		case "ids":
			var ids []string
			if err := json.Unmarshal(value, &ids); err != nil {
				return Selection{}, nil, fmt.Errorf("decode selection ids: %w", err)
			}
			sel.IDs = ids
		default:
			var id *string
			if err := json.Unmarshal(value, &id); err != nil {
				// not a slot value
				continue
			}
			if sel.Slots == nil {
				sel.Slots = make(map[Slot]string, 2)
			}
			if id == nil {
				sel.Slots[Slot(key)] = ""
			} else {
				sel.Slots[Slot(key)] = *id
			}
		}
	}
	return sel, raw, nil
}

func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields())
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	sel, _, err := parseSelection(data)
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := s.Selection.fields()
	out["timestamp"] = s.Timestamp
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	sel, raw, err := parseSelection(data)
	if err != nil {
		return err
	}
	var ts float64
	if value, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(value, &ts); err != nil {
			return fmt.Errorf("decode snapshot timestamp: %w", err)
		}
	}
	*s = Snapshot{Selection: sel, Timestamp: int64(math.Round(ts))}
	return nil
}

// DecodeHistory reads a stored history. Values that are not arrays yield an
// empty history and entries that cannot be parsed are dropped.
func DecodeHistory(data []byte) History {
	if len(data) == 0 {
		return History{}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return History{}
	}
	history := make(History, 0, len(entries))
	for _, entry := range entries {
		var snap Snapshot
		if err := json.Unmarshal(entry, &snap); err != nil {
			continue
		}
		history = append(history, snap)
	}
	return history
}
