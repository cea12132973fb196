package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is plain text output (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or csv)", s)
	}
}

// Table is implemented by results that render as rows.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter aligns tables in columns and prints anything else with %v.
type TextFormatter struct{}

// FormatTo writes data to writer in text format.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Header(), "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to writer in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter formats tables as CSV.
type CSVFormatter struct{}

// FormatTo writes data to writer in CSV format.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		return fmt.Errorf("CSV output is not supported for %T", data)
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.Header()); err != nil {
		return err
	}
	if err := csvWriter.WriteAll(t.Rows()); err != nil {
		return err
	}
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}
