// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/quay/zlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/epss"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/exploit"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/kev"
	"github.com/bonial-oss/vuln-risk-prio/internal/input"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

// writeCache seeds a freshly-written (and therefore fresh) cache file for
// the given source so the pipeline runs without any network access.
func writeCache(t *testing.T, dir, source, payload string) {
	t.Helper()
	path := filepath.Join(dir, source+"_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
}

func seedCaches(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeCache(t, dir, "kev", `{
		"catalog": {
			"title": "CISA Catalog of Known Exploited Vulnerabilities",
			"vulnerabilities": [
				{
					"cveID": "CVE-2021-44228",
					"vendorProject": "Apache",
					"product": "Log4j2",
					"vulnerabilityName": "Apache Log4j2 Remote Code Execution Vulnerability",
					"dateAdded": "2021-12-10",
					"dueDate": "2021-12-24",
					"requiredAction": "Apply updates per vendor instructions.",
					"knownRansomwareCampaignUse": "Known"
				}
			]
		}
	}`)
	writeCache(t, dir, "epss", `{
		"CVE-2021-44228": {"cve": "CVE-2021-44228", "score": 0.975, "percentile": 0.999, "asOfDate": "2026-08-01"},
		"CVE-2024-00001": {"cve": "CVE-2024-00001", "score": 0.05, "percentile": 0.2, "asOfDate": "2026-08-01"}
	}`)
	writeCache(t, dir, "exploit", `{
		"CVE-2021-44228": {"available": true, "weaponized": true, "maturity": "weaponized", "attackVector": "network"},
		"CVE-2024-00001": {"available": false}
	}`)
	return dir
}

const inputDoc = `[
	{"cve": "CVE-2021-44228", "cvss": 10.0, "package": "log4j-core", "severity": "CRITICAL"},
	{"cve": "CVE-2024-00001", "cvss": 3.0, "package": "example-lib"},
	"scanner: 2 findings",
	{"package": "left-pad"}
]`

func TestEnrichAll(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := seedCaches(t)

	doc, err := input.Parse([]byte(inputDoc))
	require.NoError(t, err)

	agg := New(
		kev.NewSource(dir, 0),
		epss.NewSource(dir, 0),
		nil,
		exploit.NewSource(dir, 0, "test-key"),
		4,
	)
	res := agg.EnrichAll(ctx, doc)

	assert.Empty(t, res.SourceErrors)
	require.Len(t, doc.Elements, 4)

	log4shell := doc.Elements[0].Finding
	require.NotNil(t, log4shell)
	require.NotNil(t, log4shell.KEV)
	assert.True(t, log4shell.KEV.InKEV)
	assert.Equal(t, "Apache", log4shell.KEV.VendorProject)
	assert.Equal(t, types.P0Immediate, log4shell.Priority)
	assert.Equal(t, "CRITICAL", log4shell.EffectiveSeverity)
	require.NotNil(t, log4shell.EPSS)
	assert.Equal(t, 0.975, log4shell.EPSS.Score)
	assert.Equal(t, "CRITICAL", log4shell.EPSS.Band)
	assert.Equal(t, "97.5%", log4shell.EPSS.ExploitationProbability)
	require.NotNil(t, log4shell.Exploit)
	assert.True(t, log4shell.Exploit.Weaponized)
	require.NotNil(t, log4shell.RiskScore)
	assert.InDelta(t, 99.25, *log4shell.RiskScore, 1e-9)

	benign := doc.Elements[1].Finding
	require.NotNil(t, benign)
	require.NotNil(t, benign.KEV)
	assert.False(t, benign.KEV.InKEV)
	require.NotNil(t, benign.RiskScore)
	assert.InDelta(t, 13.5, *benign.RiskScore, 1e-9)
	assert.Equal(t, types.P4Low, benign.Priority)

	// Non-object input passes through untouched.
	assert.Nil(t, doc.Elements[2].Finding)
	assert.JSONEq(t, `"scanner: 2 findings"`, string(doc.Elements[2].Raw))

	// A finding without any CVE id is still scored.
	leftPad := doc.Elements[3].Finding
	require.NotNil(t, leftPad)
	require.NotNil(t, leftPad.RiskScore)
	assert.Zero(t, *leftPad.RiskScore)
	assert.Equal(t, types.P4Low, leftPad.Priority)

	assert.Equal(t, types.Summary{
		types.P0Immediate: 1,
		types.P4Low:       2,
	}, res.Summary)
}

func TestEnrichAll_OrderPreserved(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := t.TempDir()

	entries := make(map[string]types.EPSSRecord)
	var list []json.RawMessage
	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("CVE-2024-%05d", 10000+i)
		entries[id] = types.EPSSRecord{CVE: id, Score: float64(i) / 100}
		list = append(list, json.RawMessage(`{"cve": "`+id+`"}`))
		want = append(want, id)
	}
	payload, err := json.Marshal(entries)
	require.NoError(t, err)
	writeCache(t, dir, "epss", string(payload))

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	doc, err := input.Parse(raw)
	require.NoError(t, err)

	agg := New(nil, epss.NewSource(dir, 0), nil, nil, 3)
	res := agg.EnrichAll(ctx, doc)
	require.Empty(t, res.SourceErrors)

	for i, f := range doc.Findings() {
		id, ok := f.CVEID()
		require.True(t, ok)
		assert.Equal(t, want[i], id, "finding %d moved", i)
		require.NotNil(t, f.EPSS, "finding %d not enriched", i)
		assert.Equal(t, entries[id].Score, f.EPSS.Score)
	}
}

func TestEnrichAll_Idempotent(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := seedCaches(t)

	enrich := func(data []byte) []byte {
		doc, err := input.Parse(data)
		require.NoError(t, err)
		agg := New(
			kev.NewSource(dir, 0),
			epss.NewSource(dir, 0),
			nil,
			exploit.NewSource(dir, 0, "test-key"),
			0,
		)
		res := agg.EnrichAll(ctx, doc)
		require.Empty(t, res.SourceErrors)
		out, err := json.Marshal(doc.Elements)
		require.NoError(t, err)
		return out
	}

	once := enrich([]byte(inputDoc))
	twice := enrich(once)
	assert.Equal(t, string(once), string(twice), "re-enriching enriched output must be byte-identical")
}

func TestEnrichAll_CanceledContextReturnsPartial(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	doc, err := input.Parse([]byte(inputDoc))
	require.NoError(t, err)

	// Empty cache dir: the canceled context fails the KEV download and the
	// worker-pool admission, but the pipeline still returns a scored result.
	agg := New(kev.NewSource(t.TempDir(), 0), nil, nil, nil, 2)
	res := agg.EnrichAll(ctx, doc)

	assert.Contains(t, res.SourceErrors, "kev")
	assert.Contains(t, res.SourceErrors, "pipeline")
	require.NotNil(t, res.Document)
	for _, f := range doc.Findings() {
		require.NotNil(t, f.RiskScore)
		assert.NotEmpty(t, f.Priority)
	}
}

func TestEnrichAll_NilSources(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	doc, err := input.Parse([]byte(`[{"cve": "CVE-2024-0001", "cvss": 10.0}]`))
	require.NoError(t, err)

	res := New(nil, nil, nil, nil, 0).EnrichAll(ctx, doc)
	assert.Empty(t, res.SourceErrors)

	f := doc.Elements[0].Finding
	require.NotNil(t, f.RiskScore)
	assert.InDelta(t, 40.0, *f.RiskScore, 1e-9)
	assert.Equal(t, types.P3Medium, f.Priority)
	assert.Nil(t, f.KEV)
	assert.Nil(t, f.EPSS)
}

func TestNew_DefaultConcurrency(t *testing.T) {
	assert.EqualValues(t, DefaultConcurrency, New(nil, nil, nil, nil, 0).concurrency)
	assert.EqualValues(t, DefaultConcurrency, New(nil, nil, nil, nil, -1).concurrency)
	assert.EqualValues(t, 2, New(nil, nil, nil, nil, 2).concurrency)
}
