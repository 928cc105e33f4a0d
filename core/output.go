package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a Printer renders results.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// ParseOutputFormat accepts text, json or yaml.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON, OutputYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// Printer handles all display output for the CLI.
type Printer struct {
	Format  OutputFormat
	Verbose bool
	Writer  io.Writer
	Err     io.Writer
}

// NewPrinter creates a Printer writing to stdout and stderr.
func NewPrinter(format OutputFormat, verbose bool) *Printer {
	return &Printer{Format: format, Verbose: verbose, Writer: os.Stdout, Err: os.Stderr}
}

// Structured reports whether output is machine-readable.
func (p *Printer) Structured() bool { return p.Format == OutputJSON || p.Format == OutputYAML }

// PrintValue renders v as JSON or YAML. In text mode it falls back to %v.
func (p *Printer) PrintValue(v any) error {
	switch p.Format {
	case OutputJSON:
		enc := json.NewEncoder(p.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(p.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	_, err := fmt.Fprintf(p.Writer, "%v\n", v)
	return err
}

// PrintMetadata renders a Metadata struct to the configured output.
func (p *Printer) PrintMetadata(m *Metadata) error {
	if p.Structured() {
		return p.PrintValue(m)
	}
	fmt.Fprintf(p.Writer, "File  : %s\n", m.FilePath)
	fmt.Fprintf(p.Writer, "Format: %s\n", m.Format)
	if len(m.Fields) == 0 {
		fmt.Fprintln(p.Writer, "(no metadata found)")
		return nil
	}
	fmt.Fprintln(p.Writer)

	// Group by category, keeping first-seen order.
	groups := make(map[string][]MetaField)
	var order []string
	for _, f := range m.Fields {
		if _, ok := groups[f.Category]; !ok {
			order = append(order, f.Category)
		}
		groups[f.Category] = append(groups[f.Category], f)
	}

	heading := color.New(color.Bold)
	for _, cat := range order {
		heading.Fprintf(p.Writer, "── %s ──\n", cat)
		rows := make([][]string, 0, len(groups[cat]))
		for _, f := range groups[cat] {
			value := f.Value
			if !p.Verbose && len(value) > 120 {
				value = value[:117] + "..."
			}
			mark := ""
			if f.Editable {
				mark = "✎"
			}
			rows = append(rows, []string{f.Key, value, mark})
		}
		p.table(nil, rows)
		fmt.Fprintln(p.Writer)
	}
	return nil
}

// PrintTable renders rows under header, or the rows as objects keyed by
// header in structured mode.
func (p *Printer) PrintTable(header []string, rows [][]string) error {
	if p.Structured() {
		out := make([]map[string]string, 0, len(rows))
		for _, r := range rows {
			obj := make(map[string]string, len(header))
			for i, h := range header {
				if i < len(r) {
					obj[strings.ToLower(h)] = r[i]
				}
			}
			out = append(out, obj)
		}
		return p.PrintValue(out)
	}
	p.table(header, rows)
	return nil
}

func (p *Printer) table(header []string, rows [][]string) {
	t := tablewriter.NewWriter(p.Writer)
	if header != nil {
		t.SetHeader(header)
	} else {
		t.SetBorder(false)
		t.SetColumnSeparator("")
	}
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.AppendBulk(rows)
	t.Render()
}

// PrintSuccess prints a success message.
func (p *Printer) PrintSuccess(msg string) {
	if p.Structured() {
		return
	}
	color.New(color.FgGreen).Fprintln(p.Writer, "✓ "+msg)
}

// PrintInfo prints an info line (suppressed in structured mode).
func (p *Printer) PrintInfo(msg string) {
	if !p.Structured() {
		fmt.Fprintln(p.Writer, msg)
	}
}

// PrintWarning prints a warning to the error stream.
func (p *Printer) PrintWarning(msg string) {
	color.New(color.FgYellow).Fprintln(p.Err, "! "+msg)
}

// PrintError prints an error to the error stream.
func (p *Printer) PrintError(err error) {
	color.New(color.FgRed).Fprintln(p.Err, "✗ Error: "+err.Error())
}

// ParseKV parses a "Key=Value" string.
func ParseKV(s string) (key, value string, ok bool) {
	idx := strings.Index(s, "=")
	if idx < 1 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), s[idx+1:], true
}

// ResolveOutPath returns dst if non-empty, otherwise src (in-place).
func ResolveOutPath(src, dst string) string {
	if dst == "" {
		return src
	}
	return dst
}
