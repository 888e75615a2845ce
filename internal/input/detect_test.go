// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BareArray(t *testing.T) {
	doc, err := Parse([]byte(`[
		{"cve": "CVE-2021-44228", "cvss": 10.0},
		{"id": "CVE-2024-0001"}
	]`))
	require.NoError(t, err)
	require.Len(t, doc.Elements, 2)

	id, ok := doc.Elements[0].Finding.CVEID()
	require.True(t, ok)
	assert.Equal(t, "CVE-2021-44228", id)

	id, ok = doc.Elements[1].Finding.CVEID()
	require.True(t, ok)
	assert.Equal(t, "CVE-2024-0001", id)
}

func TestParse_WrappedObject(t *testing.T) {
	doc, err := Parse([]byte(`{
		"findings": [{"cve": "CVE-2021-44228"}],
		"summary": {"P0-IMMEDIATE": 1}
	}`))
	require.NoError(t, err)
	require.Len(t, doc.Elements, 1)
	require.NotNil(t, doc.Elements[0].Finding)
}

func TestParse_EmptyFindingsArray(t *testing.T) {
	for _, in := range []string{`[]`, `{"findings": []}`} {
		doc, err := Parse([]byte(in))
		require.NoError(t, err, "input %s", in)
		assert.Empty(t, doc.Elements)
	}
}

func TestParse_NonObjectElementsPreserved(t *testing.T) {
	doc, err := Parse([]byte(`["free text", 42, null, {"cve": "CVE-2024-0001"}]`))
	require.NoError(t, err)
	require.Len(t, doc.Elements, 4)

	assert.Nil(t, doc.Elements[0].Finding)
	assert.Equal(t, `"free text"`, string(doc.Elements[0].Raw))
	assert.Equal(t, `42`, string(doc.Elements[1].Raw))
	assert.Equal(t, `null`, string(doc.Elements[2].Raw))
	assert.NotNil(t, doc.Elements[3].Finding)

	// Only parseable objects count as findings.
	assert.Len(t, doc.Findings(), 1)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty input"},
		{"whitespace only", "  \n\t", "empty input"},
		{"object without findings", `{"results": []}`, "no findings array"},
		{"scalar", `42`, "unrecognized input"},
		{"truncated array", `[{"cve": "CVE-`, "invalid JSON"},
		{"truncated object", `{"findings": [`, "invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
