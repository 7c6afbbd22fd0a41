// Package identity turns free-text display names into canonical identity keys
// and answers allow-list and master membership questions about them.
package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize trims and lowercases raw, then resolves it through aliases.
// Whitespace-only input yields the empty key.
func Normalize(raw string, aliases map[string]string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return key
}

// DisplayName is the presentation form of raw: trimmed with the first letter
// upper-cased. It is never used for lookups.
func DisplayName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(trimmed)
	return string(unicode.ToUpper(first)) + trimmed[size:]
}

// Roster is the set of eligible voters plus the master identity.
type Roster struct {
	Voters  []string
	Master  string
	Aliases map[string]string
}

// NewRoster builds a roster with every member and the master key normalized.
// Alias keys and targets are lowercased; duplicates collapse in order.
func NewRoster(voters []string, master string, aliases map[string]string) Roster {
	cleaned := make(map[string]string, len(aliases))
	for from, to := range aliases {
		from = strings.ToLower(strings.TrimSpace(from))
		to = strings.ToLower(strings.TrimSpace(to))
		if from == "" || to == "" {
			continue
		}
		cleaned[from] = to
	}

	seen := make(map[string]struct{}, len(voters))
	members := make([]string, 0, len(voters))
	for _, voter := range voters {
		key := Normalize(voter, cleaned)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		members = append(members, key)
	}

	return Roster{
		Voters:  members,
		Master:  Normalize(master, cleaned),
		Aliases: cleaned,
	}
}

func (r Roster) Normalize(raw string) string {
	return Normalize(raw, r.Aliases)
}

// IsEligible is an exact membership test on an already-normalized key.
func (r Roster) IsEligible(key string) bool {
	if key == "" {
		return false
	}
	for _, member := range r.Voters {
		if member == key {
			return true
		}
	}
	return false
}

func (r Roster) IsMaster(key string) bool {
	return key != "" && key == r.Master
}

// Members returns a copy of the allow-list in configured order.
func (r Roster) Members() []string {
	out := make([]string, len(r.Voters))
	copy(out, r.Voters)
	return out
}

// Size is the group size used for per-person cost figures.
func (r Roster) Size() int {
	return len(r.Voters)
}
