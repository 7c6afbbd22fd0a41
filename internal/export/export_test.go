package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBudgetCSV(t *testing.T) {
	result, err := BudgetCSV([]BudgetRow{
		{Name: "Alexis", HousePaid: true, CarPaid: false, TotalOwes: 612.5},
		{Name: "  ", HousePaid: false, CarPaid: true, TotalOwes: 0},
		{Name: "Jay, Jr.", TotalOwes: 1.005},
	})
	if err != nil {
		t.Fatalf("BudgetCSV() error = %v", err)
	}

	want := "Name,House Paid?,Car Paid?,Total Owes\n" +
		"Alexis,Yes,No,612.50\n" +
		"Guest 2,No,Yes,0.00\n" +
		"\"Jay, Jr.\",No,No,1.00\n"
	if string(result.Data) != want {
		t.Fatalf("BudgetCSV() =\n%s\nwant\n%s", result.Data, want)
	}
	if result.Filename != "budget.csv" || !strings.HasPrefix(result.MimeType, "text/csv") {
		t.Errorf("unexpected metadata: %s %s", result.Filename, result.MimeType)
	}
}

func TestGroceryCSV(t *testing.T) {
	result, err := GroceryCSV([]GroceryLine{
		{Name: "Limes", Quantity: 12, Bought: true},
		{Name: "Chips", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("GroceryCSV() error = %v", err)
	}
	want := "Item,Quantity,Bought\nLimes,12,Yes\nChips,3,No\n"
	if string(result.Data) != want {
		t.Fatalf("GroceryCSV() = %q, want %q", result.Data, want)
	}

	empty, err := GroceryCSV(nil)
	if err != nil {
		t.Fatalf("GroceryCSV(nil) error = %v", err)
	}
	if string(empty.Data) != "Item,Quantity,Bought\n" {
		t.Errorf("empty export should only hold the header, got %q", empty.Data)
	}
}

func TestResultsCSVFlattensSections(t *testing.T) {
	report := Report{
		Ballot: "rental",
		Sections: []Section{
			{Label: "five", Rows: []Row{{Candidate: "c1", Nickname: "Compact SUV", Votes: 2, Top: true}}},
			{Label: "seven", Rows: []Row{{Candidate: "c3", Votes: 1, Top: true}, {Candidate: "c4"}}},
		},
	}
	result, err := ResultsCSV(report)
	if err != nil {
		t.Fatalf("ResultsCSV() error = %v", err)
	}
	want := "Slot,Candidate,Votes,Top\nfive,Compact SUV,2,Yes\nseven,c3,1,Yes\nseven,c4,0,No\n"
	if string(result.Data) != want {
		t.Fatalf("ResultsCSV() = %q, want %q", result.Data, want)
	}
	if result.Filename != "rental-results.csv" {
		t.Errorf("filename = %q", result.Filename)
	}
}

func TestResultsCSVWithoutSlots(t *testing.T) {
	result, err := ResultsCSV(Report{
		Ballot:   "house",
		Sections: []Section{{Rows: []Row{{Candidate: "h1", Nickname: "Farmhouse", Votes: 3, Top: true}}}},
	})
	if err != nil {
		t.Fatalf("ResultsCSV() error = %v", err)
	}
	want := "Candidate,Votes,Top\nFarmhouse,3,Yes\n"
	if string(result.Data) != want {
		t.Fatalf("ResultsCSV() = %q, want %q", result.Data, want)
	}
}

func TestArchiveNameIgnoresGenerationTime(t *testing.T) {
	first := Report{Ballot: "rental", GeneratedAt: time.Date(2025, 6, 22, 0, 0, 1, 0, time.UTC)}
	second := Report{Ballot: "rental", GeneratedAt: time.Date(2025, 6, 23, 9, 30, 0, 0, time.UTC)}
	a, err := ResultsCSV(first)
	if err != nil {
		t.Fatalf("ResultsCSV() error = %v", err)
	}
	b, err := ResultsCSV(second)
	if err != nil {
		t.Fatalf("ResultsCSV() error = %v", err)
	}

	nameA := archiveName(first.Ballot, a.Filename)
	if nameB := archiveName(second.Ballot, b.Filename); nameA != nameB {
		t.Fatalf("archive names differ across restarts: %q vs %q", nameA, nameB)
	}
	if nameA != "rental/final-rental-results.csv" {
		t.Errorf("archiveName() = %q", nameA)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"house results", "house-results"},
		{"rental v1.2", "rental-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "results"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"★", "%E2%98%85"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderResultsHTML(t *testing.T) {
	html, err := RenderResultsHTML(Report{
		Title:       "House vote <final>",
		Ballot:      "house",
		Voters:      7,
		GeneratedAt: time.Date(2025, 6, 22, 9, 30, 0, 0, time.UTC),
		Sections: []Section{
			{Rows: []Row{
				{Candidate: "h1", Nickname: "Lakeview Cabin", Votes: 4, Top: true, PerPerson: 600},
				{Candidate: "h2", Votes: 1, PerPerson: 735.71},
			}},
			{Label: "empty"},
		},
	})
	if err != nil {
		t.Fatalf("RenderResultsHTML() error = %v", err)
	}

	for _, want := range []string{"Lakeview Cabin", "$600.00", "$735.71", "7 voters", "Jun 22, 2025", `class="top"`, "No votes yet"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<final>") {
		t.Error("title must be escaped")
	}
}

func TestResultsPDFWithoutBrowser(t *testing.T) {
	svc := NewService("definitely-not-a-browser-binary", nil)
	_, err := svc.ResultsPDF(context.Background(), Report{Ballot: "house"})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestArchiveDisabled(t *testing.T) {
	if _, err := NewArchive(context.Background(), ArchiveConfig{}); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("NewArchive() = %v, want ErrArchiveDisabled", err)
	}
	svc := NewService("", nil)
	if _, err := svc.ArchiveResults(context.Background(), Report{Ballot: "house"}); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("ArchiveResults() = %v, want ErrArchiveDisabled", err)
	}
}
