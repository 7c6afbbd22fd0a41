package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

const csvMimeType = "text/csv; charset=utf-8"

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// BudgetCSV writes the payments tracker. Rows without a name are labelled
// "Guest N" by position.
func BudgetCSV(rows []BudgetRow) (*Result, error) {
	records := make([][]string, 0, len(rows))
	for i, row := range rows {
		name := strings.TrimSpace(row.Name)
		if name == "" {
			name = fmt.Sprintf("Guest %d", i+1)
		}
		records = append(records, []string{
			name,
			yesNo(row.HousePaid),
			yesNo(row.CarPaid),
			strconv.FormatFloat(row.TotalOwes, 'f', 2, 64),
		})
	}
	data, err := writeCSV([]string{"Name", "House Paid?", "Car Paid?", "Total Owes"}, records)
	if err != nil {
		return nil, fmt.Errorf("write budget csv: %w", err)
	}
	return &Result{Data: data, Filename: "budget.csv", MimeType: csvMimeType}, nil
}

func GroceryCSV(items []GroceryLine) (*Result, error) {
	records := make([][]string, 0, len(items))
	for _, item := range items {
		records = append(records, []string{item.Name, strconv.Itoa(item.Quantity), yesNo(item.Bought)})
	}
	data, err := writeCSV([]string{"Item", "Quantity", "Bought"}, records)
	if err != nil {
		return nil, fmt.Errorf("write grocery csv: %w", err)
	}
	return &Result{Data: data, Filename: "grocery-list.csv", MimeType: csvMimeType}, nil
}

// ResultsCSV flattens every section of the report into one table. Reports
// with labelled sections get a leading Slot column.
func ResultsCSV(report Report) (*Result, error) {
	labelled := false
	for _, section := range report.Sections {
		if section.Label != "" {
			labelled = true
			break
		}
	}

	var records [][]string
	for _, section := range report.Sections {
		for _, row := range section.Rows {
			label := row.Candidate
			if row.Nickname != "" {
				label = row.Nickname
			}
			record := []string{label, strconv.Itoa(row.Votes), yesNo(row.Top)}
			if labelled {
				record = append([]string{section.Label}, record...)
			}
			records = append(records, record)
		}
	}
	header := []string{"Candidate", "Votes", "Top"}
	if labelled {
		header = append([]string{"Slot"}, header...)
	}
	data, err := writeCSV(header, records)
	if err != nil {
		return nil, fmt.Errorf("write results csv: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(report.Ballot+"-results") + ".csv",
		MimeType: csvMimeType,
	}, nil
}
