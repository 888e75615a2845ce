// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// cvePattern matches a CVE identifier like CVE-2021-44228.
var cvePattern = regexp.MustCompile(`(?i)^CVE-\d{4}-\d+$`)

// IsCVE reports whether s is a well-formed CVE identifier.
func IsCVE(s string) bool {
	return cvePattern.MatchString(s)
}

// NormalizeCVE upper-cases a CVE identifier so lookups are case-insensitive.
func NormalizeCVE(s string) string {
	return strings.ToUpper(s)
}

// Finding is a single vulnerability finding. The original input fields are
// preserved verbatim in Extras and re-emitted on marshal; only the
// enrichment fields added by this tool are typed. Marshaling goes through a
// map, so output key order is deterministic and re-enriching an
// already-enriched finding with the same cache state is byte-identical.
type Finding struct {
	KEV               *KEVData        `json:"kev,omitempty"`
	EPSS              *EPSSData       `json:"epss,omitempty"`
	GHSA              *GHSAAdvisory   `json:"ghsa,omitempty"`
	Exploit           *ExploitData    `json:"exploit,omitempty"`
	Remediation       *Remediation    `json:"remediation,omitempty"`
	RiskScore         *float64        `json:"riskScore,omitempty"`
	Priority          Priority        `json:"priority,omitempty"`
	EffectiveSeverity string          `json:"effectiveSeverity,omitempty"`
	RiskContext       []string        `json:"riskContext,omitempty"`
	// Extras holds all input JSON fields for passthrough.
	Extras map[string]json.RawMessage `json:"-"`
}

// enrichmentFields lists the JSON keys owned by the enrichment pipeline.
// Everything else belongs to the input and goes into Extras untouched.
var enrichmentFields = map[string]bool{
	"kev":               true,
	"epss":              true,
	"ghsa":              true,
	"exploit":           true,
	"remediation":       true,
	"riskScore":         true,
	"priority":          true,
	"effectiveSeverity": true,
	"riskContext":       true,
}

// UnmarshalJSON decodes a Finding, extracting enrichment fields into their
// typed counterparts and capturing all input fields in Extras.
func (f *Finding) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	get := func(key string, dst any) error {
		raw, ok := all[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}

	if _, ok := all["kev"]; ok {
		f.KEV = &KEVData{}
		if err := get("kev", f.KEV); err != nil {
			return err
		}
	}
	if _, ok := all["epss"]; ok {
		f.EPSS = &EPSSData{}
		if err := get("epss", f.EPSS); err != nil {
			return err
		}
	}
	if _, ok := all["ghsa"]; ok {
		f.GHSA = &GHSAAdvisory{}
		if err := get("ghsa", f.GHSA); err != nil {
			return err
		}
	}
	if _, ok := all["exploit"]; ok {
		f.Exploit = &ExploitData{}
		if err := get("exploit", f.Exploit); err != nil {
			return err
		}
	}
	if _, ok := all["remediation"]; ok {
		f.Remediation = &Remediation{}
		if err := get("remediation", f.Remediation); err != nil {
			return err
		}
	}
	if _, ok := all["riskScore"]; ok {
		f.RiskScore = new(float64)
		if err := get("riskScore", f.RiskScore); err != nil {
			return err
		}
	}
	if err := get("priority", &f.Priority); err != nil {
		return err
	}
	if err := get("effectiveSeverity", &f.EffectiveSeverity); err != nil {
		return err
	}
	if err := get("riskContext", &f.RiskContext); err != nil {
		return err
	}

	extras := make(map[string]json.RawMessage)
	for k, v := range all {
		if !enrichmentFields[k] {
			extras[k] = v
		}
	}
	if len(extras) > 0 {
		f.Extras = extras
	}

	return nil
}

// MarshalJSON encodes a Finding, merging the typed enrichment fields with
// the passthrough Extras map.
func (f Finding) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)

	for k, v := range f.Extras {
		m[k] = v
	}

	if f.KEV != nil {
		m["kev"] = f.KEV
	}
	if f.EPSS != nil {
		m["epss"] = f.EPSS
	}
	if f.GHSA != nil {
		m["ghsa"] = f.GHSA
	}
	if f.Exploit != nil {
		m["exploit"] = f.Exploit
	}
	if f.Remediation != nil {
		m["remediation"] = f.Remediation
	}
	if f.RiskScore != nil {
		m["riskScore"] = f.RiskScore
	}
	if f.Priority != "" {
		m["priority"] = f.Priority
	}
	if f.EffectiveSeverity != "" {
		m["effectiveSeverity"] = f.EffectiveSeverity
	}
	if len(f.RiskContext) > 0 {
		m["riskContext"] = f.RiskContext
	}

	return json.Marshal(m)
}

// CVEID extracts the CVE identifier from the finding, probing the input
// fields in priority order: "cve", then "id", then the nested
// "vulnerability.id". Non-string values are skipped. The second return is
// false when no identifier could be extracted at all; callers that need a
// well-formed CVE must additionally check IsCVE.
func (f *Finding) CVEID() (string, bool) {
	if s, ok := f.extraString("cve"); ok {
		return normalizeIfCVE(s), true
	}
	if s, ok := f.extraString("id"); ok {
		return normalizeIfCVE(s), true
	}
	if raw, ok := f.Extras["vulnerability"]; ok {
		var nested struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.ID != "" {
			return normalizeIfCVE(nested.ID), true
		}
	}
	return "", false
}

func normalizeIfCVE(s string) string {
	if IsCVE(s) {
		return NormalizeCVE(s)
	}
	return s
}

// CVSSScore returns the finding's declared CVSS base score. Both numeric
// and string-encoded numbers are accepted; anything else counts as absent.
func (f *Finding) CVSSScore() (float64, bool) {
	raw, ok := f.Extras["cvss"]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Severity returns the finding's declared severity, or "" if absent.
func (f *Finding) Severity() string {
	s, _ := f.extraString("severity")
	return s
}

// Package returns a display name for the affected package. It accepts both
// a plain string and an OSV-style {"name": ...} object.
func (f *Finding) Package() string {
	if s, ok := f.extraString("package"); ok {
		return s
	}
	if raw, ok := f.Extras["package"]; ok {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			return obj.Name
		}
	}
	s, _ := f.extraString("pkgName")
	return s
}

// InstalledVersion returns the affected package version, probing the flat
// "version" field and the OSV-style package object.
func (f *Finding) InstalledVersion() string {
	if s, ok := f.extraString("version"); ok {
		return s
	}
	if raw, ok := f.Extras["package"]; ok {
		var obj struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			return obj.Version
		}
	}
	return ""
}

// AddContext appends an explanatory context string, skipping duplicates so
// repeated enrichment stays idempotent.
func (f *Finding) AddContext(s string) {
	for _, existing := range f.RiskContext {
		if existing == s {
			return
		}
	}
	f.RiskContext = append(f.RiskContext, s)
}

func (f *Finding) extraString(key string) (string, bool) {
	raw, ok := f.Extras[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Element is one member of the input findings list: either a parsed
// Finding, or an arbitrary non-object value passed through verbatim.
type Element struct {
	Finding *Finding
	Raw     json.RawMessage
}

// UnmarshalJSON parses a JSON object into a Finding; any other value is
// retained as raw passthrough.
func (e *Element) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		f := &Finding{}
		if err := json.Unmarshal(data, f); err != nil {
			return err
		}
		e.Finding = f
		return nil
	}
	e.Raw = append(e.Raw[:0], data...)
	return nil
}

// MarshalJSON re-emits either the finding or the untouched raw value.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.Finding != nil {
		return json.Marshal(e.Finding)
	}
	if e.Raw == nil {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

// Document is an ordered findings list. Element order is preserved through
// enrichment regardless of concurrency.
type Document struct {
	Elements []Element
}

// Findings returns the parseable findings in input order.
func (d *Document) Findings() []*Finding {
	out := make([]*Finding, 0, len(d.Elements))
	for i := range d.Elements {
		if d.Elements[i].Finding != nil {
			out = append(out, d.Elements[i].Finding)
		}
	}
	return out
}
