package export

import (
	"context"
	"fmt"
)

// Service renders results PDFs and archives finished ballots.
type Service struct {
	browser string
	archive *Archive
}

// NewService creates an export service. browser may be empty to search PATH;
// archive may be nil when object storage is not configured.
func NewService(browser string, archive *Archive) *Service {
	return &Service{browser: browser, archive: archive}
}

// ResultsPDF prints the report through headless Chrome.
func (s *Service) ResultsPDF(ctx context.Context, report Report) (*Result, error) {
	browser, err := findBrowser(s.browser)
	if err != nil {
		return nil, err
	}
	html, err := RenderResultsHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	data, err := printPDF(ctx, browser, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(report.Ballot+"-results") + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// ArchiveResults uploads the report as CSV and returns a download link.
func (s *Service) ArchiveResults(ctx context.Context, report Report) (string, error) {
	if s.archive == nil {
		return "", ErrArchiveDisabled
	}
	csv, err := ResultsCSV(report)
	if err != nil {
		return "", err
	}
	return s.archive.Put(ctx, archiveName(report.Ballot, csv.Filename), csv)
}

// archiveName is fixed per ballot, so archiving the same closed ballot again
// overwrites the earlier object.
func archiveName(ballot, filename string) string {
	return sanitizeFilename(ballot) + "/final-" + filename
}
