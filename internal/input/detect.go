// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package input parses the findings document supplied on stdin.
package input

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

// Parse accepts either a bare JSON array of findings or an object wrapping
// the array under a "findings" key (the shape this tool itself emits, so
// output can be fed back in). List members that are not JSON objects are
// preserved verbatim and passed through enrichment unchanged.
func Parse(data []byte) (*types.Document, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty input")
	}

	var rawList []json.RawMessage
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(data, &rawList); err != nil {
			return nil, fmt.Errorf("invalid JSON input: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var wrapper struct {
			Findings *[]json.RawMessage `json:"findings"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid JSON input: %w", err)
		}
		if wrapper.Findings == nil {
			return nil, fmt.Errorf("unrecognized input: object has no findings array")
		}
		rawList = *wrapper.Findings
	default:
		return nil, fmt.Errorf("unrecognized input: expected a JSON array or object")
	}

	doc := &types.Document{Elements: make([]types.Element, len(rawList))}
	for i, raw := range rawList {
		if err := json.Unmarshal(raw, &doc.Elements[i]); err != nil {
			return nil, fmt.Errorf("parsing finding %d: %w", i, err)
		}
	}
	return doc, nil
}
