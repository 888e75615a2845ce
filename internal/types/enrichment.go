// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package types

// Priority is the priority tier assigned to a finding. Tiers form a total
// order from P0-IMMEDIATE (most urgent) down to P4-LOW.
type Priority string

const (
	P0Immediate Priority = "P0-IMMEDIATE"
	P1Critical  Priority = "P1-CRITICAL"
	P2High      Priority = "P2-HIGH"
	P3Medium    Priority = "P3-MEDIUM"
	P4Low       Priority = "P4-LOW"
)

// Rank returns a numeric rank for ordering; lower is more urgent. Unknown
// or empty priorities rank below P4-LOW.
func (p Priority) Rank() int {
	switch p {
	case P0Immediate:
		return 0
	case P1Critical:
		return 1
	case P2High:
		return 2
	case P3Medium:
		return 3
	case P4Low:
		return 4
	default:
		return 5
	}
}

// Higher returns the more urgent of two priorities.
func Higher(a, b Priority) Priority {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// KEVData is the enrichment record attached under the "kev" key. When the
// CVE is not in the catalog only InKEV is set.
type KEVData struct {
	InKEV                      bool   `json:"inKev"`
	VulnerabilityName          string `json:"vulnerabilityName,omitempty"`
	VendorProject              string `json:"vendorProject,omitempty"`
	Product                    string `json:"product,omitempty"`
	DateAdded                  string `json:"dateAdded,omitempty"`
	DueDate                    string `json:"dueDate,omitempty"`
	RequiredAction             string `json:"requiredAction,omitempty"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse,omitempty"`
}

// KEVEntry represents a single entry in the CISA KEV catalog JSON.
type KEVEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	DueDate                    string `json:"dueDate"`
	RequiredAction             string `json:"requiredAction"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// EPSSRecord is one CVE's exploit-prediction score as cached per source.
type EPSSRecord struct {
	CVE        string  `json:"cve"`
	Score      float64 `json:"score"`
	Percentile float64 `json:"percentile"`
	AsOfDate   string  `json:"asOfDate,omitempty"`
}

// EPSSData is the enrichment record attached under the "epss" key.
type EPSSData struct {
	Score                   float64 `json:"epssScore"`
	Percentile              float64 `json:"epssPercentile"`
	ExploitationProbability string  `json:"exploitationProbability"`
	Band                    string  `json:"epssPriority"`
	AsOfDate                string  `json:"asOfDate,omitempty"`
}

// GHSAAdvisory is advisory metadata from the GitHub Security Advisory
// database, attached under the "ghsa" key. The zero value is the documented
// "no advisory found" result.
type GHSAAdvisory struct {
	ID              string              `json:"ghsaId"`
	Summary         string              `json:"summary"`
	Severity        string              `json:"severity,omitempty"`
	Vulnerabilities []GHSAVulnerability `json:"vulnerabilities,omitempty"`
	References      []string            `json:"references,omitempty"`
	// Error carries a transport-level failure note; the advisory fields
	// are zero in that case.
	Error string `json:"error,omitempty"`
}

// GHSAVulnerability is one affected-package range within an advisory.
type GHSAVulnerability struct {
	Ecosystem              string `json:"ecosystem,omitempty"`
	Package                string `json:"package,omitempty"`
	VulnerableVersionRange string `json:"vulnerableVersionRange,omitempty"`
	FirstPatchedVersion    string `json:"firstPatchedVersion,omitempty"`
}

// ExploitData is the enrichment record attached under the "exploit" key.
type ExploitData struct {
	Available    bool   `json:"available"`
	Weaponized   bool   `json:"weaponized,omitempty"`
	Maturity     string `json:"maturity,omitempty"`
	AttackVector string `json:"attackVector,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Remediation is derived fix guidance attached under the "remediation" key.
type Remediation struct {
	FixedVersion string `json:"fixedVersion,omitempty"`
}

// Summary counts findings per priority tier.
type Summary map[Priority]int
