package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// renderer prints transcripts and artifact chunks for a terminal, or as
// JSON lines with --json.
type renderer struct {
	out  io.Writer
	err  io.Writer
	json bool
}

func newRenderer(out, errOut io.Writer, asJSON, noColor bool) *renderer {
	if noColor {
		color.NoColor = true
	}
	return &renderer{out: out, err: errOut, json: asJSON}
}

func (r *renderer) info(format string, args ...any) {
	fmt.Fprintln(r.err, color.New(color.FgHiBlack).Sprintf(format, args...))
}

func (r *renderer) warn(format string, args ...any) {
	fmt.Fprintln(r.err, color.New(color.FgYellow).Sprintf(format, args...))
}

func (r *renderer) emit(v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(r.out, string(b))
}

// message prints one transcript entry.
func (r *renderer) message(m types.Message) {
	if r.json {
		r.emit(m)
		return
	}

	var label string
	switch {
	case m.Role == types.RoleUser:
		label = color.New(color.FgCyan, color.Bold).Sprint("you ›")
	case m.Kind == types.KindInsight:
		label = color.New(color.FgMagenta, color.Bold).Sprint("insight ›")
	case m.Kind == types.KindResearch:
		label = color.New(color.FgGreen, color.Bold).Sprint("research ›")
	case m.Kind == types.KindAnalysis:
		label = color.New(color.FgBlue, color.Bold).Sprint("analysis ›")
	case m.Kind == types.KindArtifact:
		label = color.New(color.FgYellow, color.Bold).Sprint("artifact ›")
	default:
		label = color.New(color.FgGreen, color.Bold).Sprint("assistant ›")
	}

	text := m.Text
	if m.Status == types.StatusFailed {
		text = color.New(color.FgRed).Sprint(text)
	}
	fmt.Fprintf(r.out, "%s %s\n", label, text)
	for _, c := range m.Citations {
		cite := c.URI
		if c.Title != "" {
			cite = c.Title + " - " + c.URI
		}
		fmt.Fprintln(r.out, color.New(color.FgHiBlack).Sprintf("  ↳ %s", cite))
	}
}

// chunk prints one artifact chunk. Partial chunks are a single dim line;
// the complete object is printed indented.
func (r *renderer) chunk(c types.ArtifactChunk) {
	if r.json {
		r.emit(c)
		return
	}
	switch {
	case c.Error != nil:
		msg := c.Error.Message
		if c.Error.Path != "" {
			msg = fmt.Sprintf("%s (at %s)", msg, c.Error.Path)
		}
		fmt.Fprintln(r.err, color.New(color.FgRed, color.Bold).Sprintf("✗ %s error: %s", c.Error.Code, msg))
	case c.IsComplete:
		b, _ := json.MarshalIndent(c.PartialObject, "", "  ")
		fmt.Fprintf(r.out, "%s\n%s\n", color.New(color.FgGreen, color.Bold).Sprintf("✓ %s v%s", c.Kind, c.SchemaVersion), b)
	default:
		b, _ := json.Marshal(c.PartialObject)
		fmt.Fprintln(r.err, color.New(color.FgHiBlack).Sprintf("#%d %s", c.Sequence, truncate(string(b), 120)))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
