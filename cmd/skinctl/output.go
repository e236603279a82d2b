package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/schema"
)

const (
	tablePadding = 2
	swatchWidth  = 4
)

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(out, 0, 0, tablePadding, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(writer, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(writer, strings.Join(row, "\t"))
	}
	return writer.Flush()
}

func writePalette(out io.Writer, result palette.Result) error {
	if jsonOutput {
		return writeJSON(out, result)
	}
	p := result.Palette
	renderer := lipgloss.NewRenderer(out)
	rows := make([][]string, 0, 7)
	for _, role := range []struct{ name, value string }{
		{"background", p.Background},
		{"foreground", p.Foreground},
		{"primary", p.Primary},
		{"accent1", p.Accent1},
		{"accent2", p.Accent2},
		{"neutral", p.Neutral},
	} {
		rows = append(rows, []string{role.name, role.value, swatch(renderer, role.value)})
	}
	if p.Font != "" {
		rows = append(rows, []string{"font", p.Font, ""})
	}
	if err := writeTable(out, []string{"ROLE", "VALUE", ""}, rows); err != nil {
		return err
	}
	if result.Degraded() {
		fmt.Fprintf(out, "\nsource: %s (%s)\n", result.Source, result.Reason)
	}
	return nil
}

// swatch paints a block in color. Writers that are not color terminals get
// plain spaces, and the swatch sits in the last column so escape codes never
// skew the table.
func swatch(renderer *lipgloss.Renderer, color string) string {
	if !models.IsHexColor(color) {
		return ""
	}
	return renderer.NewStyle().Background(lipgloss.Color(color)).Render(strings.Repeat(" ", swatchWidth))
}

func writeOps(out io.Writer, ops []models.Operation) error {
	if jsonOutput {
		return writeJSON(out, ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, "No changes needed.")
		return nil
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{op.Op, op.Path, fmt.Sprint(op.Value)})
	}
	return writeTable(out, []string{"OP", "PATH", "VALUE"}, rows)
}

func writeFieldErrors(out io.Writer, errs []schema.FieldError) error {
	if jsonOutput {
		if errs == nil {
			errs = []schema.FieldError{}
		}
		return writeJSON(out, map[string]any{"valid": len(errs) == 0, "errors": errs})
	}
	if len(errs) == 0 {
		fmt.Fprintln(out, "valid")
		return nil
	}
	rows := make([][]string, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, []string{e.Path, e.Message, e.Expected, e.Actual})
	}
	return writeTable(out, []string{"PATH", "MESSAGE", "EXPECTED", "ACTUAL"}, rows)
}
