// Package format renders a query result for people (text table) or programs (JSON).
package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/askdb/internal/domain/resultset"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Input is everything a formatter may render.
type Input struct {
	Question      string
	Query         string
	Results       resultset.ResultSet
	ExecutionTime time.Duration
	Driver        string
	Err           error
}

// Options tune rendering.
type Options struct {
	Format         string
	IncludeQuery   bool
	MaxColumnWidth int // text only, minimum 4
}

// Render formats in according to opts.Format.
func Render(in Input, opts Options) (string, error) {
	switch opts.Format {
	case FormatText:
		return Text(in, opts), nil
	case FormatJSON, "":
		return JSON(in, opts)
	default:
		return "", fmt.Errorf("unknown response format %q", opts.Format)
	}
}

type jsonMetadata struct {
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	ResultCount     int     `json:"result_count"`
	HasMore         bool    `json:"has_more"`
	Driver          string  `json:"driver,omitempty"`
}

type jsonResponse struct {
	Success  bool            `json:"success"`
	Question string          `json:"question,omitempty"`
	Query    string          `json:"query,omitempty"`
	Columns  []string        `json:"columns,omitempty"`
	Results  []resultset.Row `json:"results"`
	Error    string          `json:"error,omitempty"`
	Metadata jsonMetadata    `json:"metadata"`
}

// JSON renders a compact JSON document.
func JSON(in Input, opts Options) (string, error) {
	resp := jsonResponse{
		Success:  in.Err == nil,
		Question: in.Question,
		Columns:  in.Results.Columns,
		Results:  in.Results.Rows,
		Metadata: jsonMetadata{
			ExecutionTimeMS: Milliseconds(in.ExecutionTime),
			ResultCount:     in.Results.Len(),
			HasMore:         in.Results.Truncated,
			Driver:          in.Driver,
		},
	}
	if resp.Results == nil {
		resp.Results = []resultset.Row{}
	}
	if opts.IncludeQuery {
		resp.Query = in.Query
	}
	if in.Err != nil {
		resp.Error = in.Err.Error()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(data), nil
}

// Text renders an ASCII table preceded by the question and query.
func Text(in Input, opts Options) string {
	if in.Err != nil {
		return "Error: " + in.Err.Error()
	}
	width := opts.MaxColumnWidth
	if width < 4 {
		width = 30
	}

	var b strings.Builder
	if opts.IncludeQuery {
		if in.Question != "" {
			fmt.Fprintf(&b, "Question: %s\n", in.Question)
		}
		if in.Query != "" {
			fmt.Fprintf(&b, "Query: %s\n", in.Query)
		}
		b.WriteString("\n")
	}
	if in.Results.Len() == 0 {
		b.WriteString("No results.\n")
		return b.String()
	}

	cols := in.Results.Columns
	cells := make([][]string, in.Results.Len())
	widths := make([]int, len(cols))
	for j, c := range cols {
		widths[j] = min(width, utf8.RuneCountInString(c))
	}
	for i := range cells {
		vals := in.Results.Values(i)
		cells[i] = make([]string, len(cols))
		for j, v := range vals {
			s := cell(v)
			cells[i][j] = s
			widths[j] = min(width, max(widths[j], utf8.RuneCountInString(s)))
		}
	}

	sep := separator(widths)
	b.WriteString(sep)
	writeRow(&b, cols, widths)
	b.WriteString(sep)
	for _, row := range cells {
		writeRow(&b, row, widths)
	}
	b.WriteString(sep)

	n := in.Results.Len()
	if in.Results.Truncated {
		fmt.Fprintf(&b, "%d rows shown, more available\n", n)
	} else if n == 1 {
		b.WriteString("1 row\n")
	} else {
		fmt.Fprintf(&b, "%d rows\n", n)
	}
	return b.String()
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

func separator(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func writeRow(b *strings.Builder, vals []string, widths []int) {
	b.WriteString("|")
	for j, v := range vals {
		v = fit(strings.ReplaceAll(v, "\n", " "), widths[j])
		b.WriteString(" ")
		b.WriteString(v)
		b.WriteString(strings.Repeat(" ", widths[j]-utf8.RuneCountInString(v)))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

// fit cuts s to width runes, marking the cut with "...".
func fit(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}
