// Package report renders a summary of manifest records as text, JSON or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/imgfetch/internal/storage"
)

// Summary aggregates the records of one or more runs.
type Summary struct {
	TotalImages  int
	Saved        int
	Failed       int
	TotalBytes   int64
	DownloadTime time.Duration
	ByQuery      map[string]int
	Failures     []Failure
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}

// Failure is one record that aborted its run.
type Failure struct {
	Index     int
	SourceURL string
	Error     string
}

// GenerateSummary processes manifest records into a Summary.
func GenerateSummary(records []*storage.Record) Summary {
	s := Summary{ByQuery: make(map[string]int)}
	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	for _, r := range records {
		s.TotalImages++
		s.ByQuery[r.Query]++
		s.DownloadTime += r.Duration
		if r.Failed() {
			s.Failed++
			s.Failures = append(s.Failures, Failure{Index: r.Index, SourceURL: r.SourceURL, Error: r.Error})
		} else {
			s.Saved++
			s.TotalBytes += r.Bytes
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if end := r.CreatedAt.Add(r.Duration); end.After(s.EndTime) {
			s.EndTime = end
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to w as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `imgfetch summary
----------------
Time:        {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:    {{.Duration}}
Images:      {{.TotalImages}} processed, {{.Saved}} saved, {{.Failed}} failed
Total Bytes: {{.TotalBytes}} bytes

Queries:
{{- range $q, $count := .ByQuery}}
  {{$q}}: {{$count}}
{{- else}}
  None
{{- end}}

Failures:
{{- range .Failures}}
  #{{.Index}} {{.SourceURL}}: {{.Error}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable summary to w.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>imgfetch report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>imgfetch report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Saved</div>
    <div class="stat-val">{{.Saved}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt .Failed 0}}red{{else}}green{{end}};">{{.Failed}}</div>
  </div>
  <div class="stat-card">
    <div>Total Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Queries</h3>
  <table>
    <tr><th>Query</th><th>Images</th></tr>
    {{- range $q, $count := .ByQuery}}
    <tr><td>{{$q}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Failures</h3>
  <table>
    <tr><th>#</th><th>Source</th><th>Error</th></tr>
    {{- range .Failures}}
    <tr><td>{{.Index}}</td><td>{{.SourceURL}}</td><td>{{.Error}}</td></tr>
    {{- else}}
    <tr><td colspan="3">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML page to w. Values are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

// Write renders summary in format: "text", "json" or "html".
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}
