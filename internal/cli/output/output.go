// Package output renders CLI results as tables for terminals and as JSON or
// YAML for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// OutputMode selects how results are written.
type OutputMode string

// Output modes.
const (
	ModeAuto OutputMode = "auto"
	ModeText OutputMode = "text"
	ModeJSON OutputMode = "json"
	ModeYAML OutputMode = "yaml"
)

// Modes lists the accepted --output values.
var Modes = []string{string(ModeAuto), string(ModeText), string(ModeJSON), string(ModeYAML)}

// Mode converts a configured string to an OutputMode. Unknown values are auto.
func Mode(s string) OutputMode {
	switch OutputMode(s) {
	case ModeText:
		return ModeText
	case ModeJSON:
		return ModeJSON
	case ModeYAML:
		return ModeYAML
	default:
		return ModeAuto
	}
}

// Renderer writes command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   OutputMode
	isTTY  bool

	styles    *Styles
	errStyles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	return NewRendererWithTTY(out, errOut, isTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	r := &Renderer{out: out, errOut: errOut, mode: mode, isTTY: isTTY}
	r.styles = newStyles(out, isTTY, nil)
	r.errStyles = newStyles(errOut, isTTY && isTerminal(errOut), nil)
	return r
}

// SetColorProfile forces a color profile on both streams.
func (r *Renderer) SetColorProfile(p termenv.Profile) {
	r.styles = newStyles(r.out, r.isTTY, &p)
	r.errStyles = newStyles(r.errOut, r.isTTY, &p)
}

// Styles returns the styles for standard output.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// EffectiveMode resolves auto: text on a terminal and JSON otherwise.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode != ModeAuto && r.mode != "" {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeJSON
}

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool {
	return r.isTTY
}

// Out returns the standard output writer.
func (r *Renderer) Out() io.Writer {
	return r.out
}

// Render writes v as data in JSON or YAML modes, and calls text otherwise.
func (r *Renderer) Render(v any, text func(io.Writer) error) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case ModeYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(r.out)
	}
}

// Table writes an aligned table with a row count footer.
func (r *Renderer) Table(headers []string, rows [][]any) {
	WriteTable(r.out, headers, rows)
}

// Println writes a line to standard output.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to standard output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Success writes a confirmation line to standard output.
func (r *Renderer) Success(msg string) {
	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Success.Render("✓"), msg)
}

// StatusLine writes name prefixed by an icon for status. A non-empty detail
// follows in the muted style.
func (r *Renderer) StatusLine(name, status, detail string) {
	line := r.styles.statusIcon(status) + " " + name
	if detail != "" {
		line += " " + r.styles.Muted.Render(detail)
	}
	_, _ = fmt.Fprintln(r.out, line)
}

// Warn writes a line to the error stream.
func (r *Renderer) Warn(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.errStyles.Warning.Render(fmt.Sprintf(format, a...)))
}

// WriteTable renders rows under headers with go-pretty.
func WriteTable(w io.Writer, headers []string, rows [][]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

// FormatValue renders a result cell.
func FormatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
