// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package enricher

import (
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

// Signal weights and priority thresholds. The values are fixed for
// compatibility with existing report consumers; treat them as candidates
// for configuration, not as derived truths.
const (
	weightCVSS    = 40.0
	weightEPSS    = 30.0
	weightKEV     = 20.0
	weightExploit = 10.0

	thresholdP1 = 80.0
	thresholdP2 = 60.0
	thresholdP3 = 40.0
)

// Score fuses the enrichment signals into a composite risk score in
// [0,100]:
//
//	40·(cvss/10) + 30·epssScore + 20·inKev + 10·(weaponized ? 1 : available ? 0.5 : 0)
//
// Missing inputs contribute 0; scoring never fails.
func Score(f *types.Finding) float64 {
	var v float64
	if cvss, ok := f.CVSSScore(); ok {
		v += weightCVSS * (cvss / 10)
	}
	if f.EPSS != nil {
		v += weightEPSS * f.EPSS.Score
	}
	if f.KEV != nil && f.KEV.InKEV {
		v += weightKEV
	}
	if f.Exploit != nil {
		switch {
		case f.Exploit.Weaponized:
			v += weightExploit
		case f.Exploit.Available:
			v += weightExploit * 0.5
		}
	}
	return clamp(v, 0, 100)
}

// PriorityFor derives the priority tier. A KEV hit short-circuits to
// P0-IMMEDIATE regardless of the numeric score; a weaponized exploit
// raises the tier to at least P1-CRITICAL.
func PriorityFor(f *types.Finding, score float64) types.Priority {
	if f.KEV != nil && f.KEV.InKEV {
		return types.P0Immediate
	}
	var p types.Priority
	switch {
	case score >= thresholdP1:
		p = types.P1Critical
	case score >= thresholdP2:
		p = types.P2High
	case score >= thresholdP3:
		p = types.P3Medium
	default:
		p = types.P4Low
	}
	if f.Exploit != nil && f.Exploit.Weaponized {
		p = types.Higher(p, types.P1Critical)
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
