package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var resultsTemplate = template.Must(template.New("results.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"money": func(v float64) string {
		return fmt.Sprintf("$%.2f", v)
	},
}).ParseFS(templateFS, "templates/results.html"))

// RenderResultsHTML renders the printable results page.
func RenderResultsHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := resultsTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}
