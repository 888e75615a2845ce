// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

// Report is the JSON output envelope: the enriched findings list plus the
// priority-distribution summary. The shape is accepted back by the input
// parser, so enrichment can be re-run on its own output.
type Report struct {
	Findings     []types.Element   `json:"findings"`
	Summary      types.Summary     `json:"summary"`
	SourceErrors map[string]string `json:"sourceErrors,omitempty"`
}

// WriteJSON writes data as indented JSON.
func WriteJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// WriteReport writes the enriched document and summary as JSON.
func WriteReport(w io.Writer, doc *types.Document, summary types.Summary, sourceErrors map[string]string) error {
	r := Report{
		Findings: doc.Elements,
		Summary:  summary,
	}
	if len(sourceErrors) > 0 {
		r.SourceErrors = sourceErrors
	}
	return WriteJSON(w, r)
}
