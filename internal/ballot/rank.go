package ballot

import "sort"

// Standing is one candidate's place in the results.
type Standing struct {
	ID    string `json:"id"`
	Votes int    `json:"votes"`
	Top   bool   `json:"top"`
}

// Rank orders candidates by votes, most first, keeping catalog order among
// equal counts. Counted ids missing from candidates are appended so no vote
// disappears from the results. Every candidate sharing the highest non-zero
// count is marked Top.
func Rank(counts Counts, candidates []string) []Standing {
	standings := make([]Standing, 0, len(candidates)+len(counts))
	listed := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		if _, ok := listed[id]; ok {
			continue
		}
		listed[id] = struct{}{}
		standings = append(standings, Standing{ID: id, Votes: counts[id]})
	}

	var extra []string
	for id := range counts {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		standings = append(standings, Standing{ID: id, Votes: counts[id]})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Votes > standings[j].Votes
	})

	max := 0
	for _, standing := range standings {
		if standing.Votes > max {
			max = standing.Votes
		}
	}
	if max > 0 {
		for i := range standings {
			standings[i].Top = standings[i].Votes == max
		}
	}
	return standings
}
