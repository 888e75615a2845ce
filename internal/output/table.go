// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	aqtable "github.com/aquasecurity/table"
	"github.com/aquasecurity/tml"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

const maxSummaryWords = 12

// TableConfig controls row sorting and terminal styling.
type TableConfig struct {
	SortBy     string // "risk", "priority", "epss", "cve", "" (preserve order)
	IsTerminal bool   // true when output goes to a terminal (enables ANSI styling)
}

// IsOutputToTerminal returns true if the writer is stdout connected to a
// character device (TTY).
func IsOutputToTerminal(output io.Writer) bool {
	return output == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
}

// findingRow holds a reference to a finding for table rendering.
type findingRow struct {
	finding *types.Finding
	index   int // original index for stable sort
}

// WriteTable renders the enriched findings as a table followed by the
// priority-distribution summary.
func WriteTable(w io.Writer, doc *types.Document, summary types.Summary, cfg TableConfig) error {
	findings := doc.Findings()

	rows := make([]findingRow, len(findings))
	for i, f := range findings {
		rows[i] = findingRow{finding: f, index: i}
	}
	sortRows(rows, cfg.SortBy)

	tw := newTableWriter(w, cfg.IsTerminal)
	tw.SetHeaders("Vulnerability", "Package", "Severity", "Risk", "Priority", "EPSS", "KEV", "Fixed Version", "Advisory")
	for _, row := range rows {
		tw.AddRow(rowCells(row.finding, cfg)...)
	}
	tw.Render()

	fmt.Fprintln(w)
	writeSummary(w, summary, cfg.IsTerminal)
	return nil
}

// writeSummary renders the priority-distribution summary table.
func writeSummary(w io.Writer, summary types.Summary, isTerminal bool) {
	title := "Priority Distribution"
	if isTerminal {
		_ = tml.Fprintf(w, "<underline><bold>%s</bold></underline>\n", title)
	} else {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, strings.Repeat("=", utf8.RuneCountInString(title)))
	}

	tw := newTableWriter(w, isTerminal)
	tw.SetHeaders("Priority", "Findings")
	total := 0
	for _, p := range []types.Priority{types.P0Immediate, types.P1Critical, types.P2High, types.P3Medium, types.P4Low} {
		n := summary[p]
		total += n
		name := string(p)
		if isTerminal {
			name = colorizePriority(p)
		}
		tw.AddRow(name, fmt.Sprintf("%d", n))
	}
	tw.AddRow("Total", fmt.Sprintf("%d", total))
	tw.Render()
}

// newTableWriter creates a table writer with borders, auto-merge, and row
// separators; header and line styles use ANSI formatting on a terminal.
func newTableWriter(w io.Writer, isTerminal bool) *aqtable.Table {
	tw := aqtable.New(w)
	if isTerminal {
		tw.SetHeaderStyle(aqtable.StyleBold)
		tw.SetLineStyle(aqtable.StyleDim)
	}
	tw.SetBorders(true)
	tw.SetAutoMerge(true)
	tw.SetRowLines(true)
	return tw
}

// rowCells returns the cell values for a single finding row.
func rowCells(f *types.Finding, cfg TableConfig) []string {
	severity := f.EffectiveSeverity
	if severity == "" {
		severity = f.Severity()
	}
	if cfg.IsTerminal {
		severity = colorizeSeverity(severity)
	}
	priority := string(f.Priority)
	if cfg.IsTerminal {
		priority = colorizePriority(f.Priority)
	}

	id, _ := f.CVEID()
	return []string{
		id,
		f.Package(),
		severity,
		formatRisk(f),
		priority,
		formatEPSS(f),
		formatKEV(f),
		formatFixedVersion(f),
		formatAdvisory(f),
	}
}

// severityColors maps severity names to color functions.
var severityColors = map[string]func(a ...any) string{
	"UNKNOWN":  color.New(color.FgCyan).SprintFunc(),
	"LOW":      color.New(color.FgBlue).SprintFunc(),
	"MEDIUM":   color.New(color.FgYellow).SprintFunc(),
	"HIGH":     color.New(color.FgHiRed).SprintFunc(),
	"CRITICAL": color.New(color.FgRed).SprintFunc(),
}

// priorityColors maps priority tiers to color functions.
var priorityColors = map[types.Priority]func(a ...any) string{
	types.P0Immediate: color.New(color.FgRed, color.Bold).SprintFunc(),
	types.P1Critical:  color.New(color.FgRed).SprintFunc(),
	types.P2High:      color.New(color.FgHiRed).SprintFunc(),
	types.P3Medium:    color.New(color.FgYellow).SprintFunc(),
	types.P4Low:       color.New(color.FgBlue).SprintFunc(),
}

func colorizeSeverity(severity string) string {
	if fn, ok := severityColors[strings.ToUpper(severity)]; ok {
		return fn(severity)
	}
	return severity
}

func colorizePriority(p types.Priority) string {
	if fn, ok := priorityColors[p]; ok {
		return fn(string(p))
	}
	return string(p)
}

// sortRows sorts the finding rows based on the given sort key.
func sortRows(rows []findingRow, sortBy string) {
	switch sortBy {
	case "risk":
		sort.SliceStable(rows, func(i, j int) bool {
			return riskValue(rows[i].finding) > riskValue(rows[j].finding)
		})
	case "priority":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].finding.Priority.Rank() < rows[j].finding.Priority.Rank()
		})
	case "epss":
		sort.SliceStable(rows, func(i, j int) bool {
			return epssValue(rows[i].finding) > epssValue(rows[j].finding)
		})
	case "cve":
		sort.SliceStable(rows, func(i, j int) bool {
			a, _ := rows[i].finding.CVEID()
			b, _ := rows[j].finding.CVEID()
			return a < b
		})
	default:
		// preserve original order
	}
}

func riskValue(f *types.Finding) float64 {
	if f.RiskScore != nil {
		return *f.RiskScore
	}
	return 0
}

func epssValue(f *types.Finding) float64 {
	if f.EPSS != nil {
		return f.EPSS.Score
	}
	return 0
}

func formatRisk(f *types.Finding) string {
	if f.RiskScore != nil {
		return fmt.Sprintf("%.1f", *f.RiskScore)
	}
	return "-"
}

func formatEPSS(f *types.Finding) string {
	if f.EPSS != nil {
		return f.EPSS.ExploitationProbability
	}
	return "-"
}

func formatKEV(f *types.Finding) string {
	if f.KEV != nil && f.KEV.InKEV {
		return "YES"
	}
	return "NO"
}

func formatFixedVersion(f *types.Finding) string {
	if f.Remediation != nil && f.Remediation.FixedVersion != "" {
		return f.Remediation.FixedVersion
	}
	return "-"
}

// formatAdvisory builds the advisory cell: the GHSA id plus a truncated
// summary.
func formatAdvisory(f *types.Finding) string {
	if f.GHSA == nil || f.GHSA.ID == "" {
		return "-"
	}
	summary := truncateWords(f.GHSA.Summary, maxSummaryWords)
	if summary == "" {
		return f.GHSA.ID
	}
	return f.GHSA.ID + "\n" + summary
}

// truncateWords limits text to maxWords words, appending "..." if truncated.
func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
