// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonial-oss/vuln-risk-prio/internal/input"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

func sampleDocument(t *testing.T) *types.Document {
	t.Helper()
	doc, err := input.Parse([]byte(`[
		{"cve": "CVE-2021-44228", "cvss": 10.0, "package": "log4j-core"},
		"passthrough line"
	]`))
	require.NoError(t, err)
	return doc
}

func TestWriteReport(t *testing.T) {
	doc := sampleDocument(t)
	score := 99.25
	f := doc.Elements[0].Finding
	f.RiskScore = &score
	f.Priority = types.P0Immediate

	var buf bytes.Buffer
	err := WriteReport(&buf, doc, types.Summary{types.P0Immediate: 1}, nil)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Contains(t, got, "findings")
	assert.Contains(t, got, "summary")
	assert.NotContains(t, got, "sourceErrors", "empty sourceErrors must be omitted")

	var findings []json.RawMessage
	require.NoError(t, json.Unmarshal(got["findings"], &findings))
	require.Len(t, findings, 2)
	assert.JSONEq(t, `"passthrough line"`, string(findings[1]))

	var summary types.Summary
	require.NoError(t, json.Unmarshal(got["summary"], &summary))
	assert.Equal(t, 1, summary[types.P0Immediate])
}

func TestWriteReport_SourceErrors(t *testing.T) {
	var buf bytes.Buffer
	err := WriteReport(&buf, sampleDocument(t), types.Summary{}, map[string]string{
		"epss": "fetching EPSS scores: connection refused",
	})
	require.NoError(t, err)

	var got struct {
		SourceErrors map[string]string `json:"sourceErrors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "fetching EPSS scores: connection refused", got.SourceErrors["epss"])
}

// The JSON report must be accepted back by the input parser so enrichment
// can be re-run on its own output.
func TestWriteReport_RoundTripsThroughParse(t *testing.T) {
	doc := sampleDocument(t)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, doc, types.Summary{}, nil))

	reparsed, err := input.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, reparsed.Elements, 2)

	id, ok := reparsed.Elements[0].Finding.CVEID()
	require.True(t, ok)
	assert.Equal(t, "CVE-2021-44228", id)
	assert.JSONEq(t, `"passthrough line"`, string(reparsed.Elements[1].Raw))
}

func TestWriteJSON_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]string{"url": "https://example.com/a?b=1&c=2"}))
	assert.Contains(t, buf.String(), "b=1&c=2")
	assert.NotContains(t, buf.String(), `&`)
}
