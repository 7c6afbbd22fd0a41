// Package export produces the downloadable artifacts: CSV files, the results
// PDF and the object-storage archive of closed ballots.
package export

import (
	"errors"
	"time"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Report is a ballot's results as they are printed and archived.
type Report struct {
	Title       string
	Ballot      string
	Voters      int
	GeneratedAt time.Time
	Sections    []Section
}

// Section holds the standings of one slot. Single-slot ballots have one
// section with an empty Label.
type Section struct {
	Label string
	Rows  []Row
}

type Row struct {
	Candidate string
	Nickname  string
	Votes     int
	Top       bool
	PerPerson float64
}

// BudgetRow is one line of the payments tracker.
type BudgetRow struct {
	Name      string  `json:"name"`
	HousePaid bool    `json:"housePaid"`
	CarPaid   bool    `json:"carPaid"`
	TotalOwes float64 `json:"totalOwes"`
}

// GroceryLine is one grocery item as exported.
type GroceryLine struct {
	Name     string
	Quantity int
	Bought   bool
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveDisabled is returned when no object storage is configured.
	ErrArchiveDisabled = errors.New("export archive disabled")
)
