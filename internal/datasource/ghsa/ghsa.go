// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package ghsa queries the GitHub Security Advisory database over GraphQL
// for patched-version and severity metadata.
package ghsa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/singleflight"

	"github.com/bonial-oss/vuln-risk-prio/internal/cache"
	"github.com/bonial-oss/vuln-risk-prio/internal/faults"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

const (
	cacheSource = "ghsa"

	defaultEndpoint = "https://api.github.com/graphql"
	fetchTimeout    = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024 // 10 MB
)

const advisoryQuery = `query($cve: String!) {
  securityAdvisories(identifier: {type: CVE, value: $cve}, first: 1) {
    nodes {
      ghsaId
      summary
      severity
      references { url }
      vulnerabilities(first: 10) {
        nodes {
          package { ecosystem name }
          vulnerableVersionRange
          firstPatchedVersion { identifier }
        }
      }
    }
  }
}`

// Source provides per-CVE advisory lookups. Repeated lookups for the same
// CVE across findings cost at most one network call: results are cached per
// CVE and concurrent callers share one in-flight query.
type Source struct {
	client   *http.Client
	endpoint string
	token    string
	cache    *cache.Store
	sf       singleflight.Group
}

// NewSource creates a GHSA source caching under cacheDir/ghsa_cache.json.
// An empty token issues unauthenticated queries.
func NewSource(cacheDir string, ttl time.Duration, token string) *Source {
	return &Source{
		client:   &http.Client{Timeout: fetchTimeout},
		endpoint: defaultEndpoint,
		token:    token,
		cache:    cache.New(cacheDir, cacheSource, ttl),
	}
}

// QueryAdvisory returns advisory metadata for the CVE. "No advisory found"
// is the zero-value advisory, not an error. GraphQL-level errors in the
// response are hard errors; transport-level failures degrade to a
// zero-value advisory carrying an error note (after the stale-cache
// fallback is exhausted).
func (s *Source) QueryAdvisory(ctx context.Context, cve string) (types.GHSAAdvisory, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datasource/ghsa/Source.QueryAdvisory")
	if !types.IsCVE(cve) {
		return types.GHSAAdvisory{}, faults.Validationf("malformed CVE identifier %q", cve)
	}
	cve = types.NormalizeCVE(cve)

	var cached types.GHSAAdvisory
	if s.cache.GetJSON(ctx, cve, &cached) {
		return cached, nil
	}

	v, err, _ := s.sf.Do(cve, func() (any, error) {
		return s.query(ctx, cve)
	})
	if err == nil {
		adv := v.(types.GHSAAdvisory)
		s.cache.Put(ctx, cve, adv)
		return adv, nil
	}
	var schemaErr *faults.SchemaError
	if errors.As(err, &schemaErr) {
		return types.GHSAAdvisory{}, err
	}

	var stale types.GHSAAdvisory
	if s.cache.StaleJSON(ctx, cve, &stale) {
		zlog.Warn(ctx).Err(err).Str("cve", cve).Msg("GHSA query failed, using stale advisory")
		return stale, nil
	}

	zlog.Warn(ctx).Err(err).Str("cve", cve).Msg("GHSA query failed, degrading to empty advisory")
	return types.GHSAAdvisory{Error: err.Error()}, nil
}

// Enrich attaches advisory metadata to the finding. When the advisory
// lists a patched version, the first non-empty one is derived into
// remediation.fixedVersion.
func (s *Source) Enrich(ctx context.Context, f *types.Finding) error {
	id, ok := f.CVEID()
	if !ok || !types.IsCVE(id) {
		return nil
	}
	adv, err := s.QueryAdvisory(ctx, id)
	if err != nil {
		return err
	}
	f.GHSA = &adv

	for _, v := range adv.Vulnerabilities {
		if v.FirstPatchedVersion != "" {
			f.Remediation = &types.Remediation{FixedVersion: v.FirstPatchedVersion}
			break
		}
	}
	return nil
}

// Wire types for the GraphQL exchange.
type graphqlRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		SecurityAdvisories struct {
			Nodes []advisoryNode `json:"nodes"`
		} `json:"securityAdvisories"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type advisoryNode struct {
	GHSAID     string `json:"ghsaId"`
	Summary    string `json:"summary"`
	Severity   string `json:"severity"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Vulnerabilities struct {
		Nodes []struct {
			Package struct {
				Ecosystem string `json:"ecosystem"`
				Name      string `json:"name"`
			} `json:"package"`
			VulnerableVersionRange string `json:"vulnerableVersionRange"`
			FirstPatchedVersion    *struct {
				Identifier string `json:"identifier"`
			} `json:"firstPatchedVersion"`
		} `json:"nodes"`
	} `json:"vulnerabilities"`
}

// query issues one GraphQL request for the CVE.
func (s *Source) query(ctx context.Context, cve string) (types.GHSAAdvisory, error) {
	body, err := json.Marshal(graphqlRequest{
		Query:     advisoryQuery,
		Variables: map[string]string{"cve": cve},
	})
	if err != nil {
		return types.GHSAAdvisory{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.GHSAAdvisory{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.GHSAAdvisory{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return types.GHSAAdvisory{}, fmt.Errorf("HTTP %d from GraphQL endpoint", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return types.GHSAAdvisory{}, fmt.Errorf("reading response body: %w", err)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return types.GHSAAdvisory{}, fmt.Errorf("unmarshaling GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return types.GHSAAdvisory{}, faults.Schemaf("ghsa", "GraphQL errors: %s", envelope.Errors[0].Message)
	}

	nodes := envelope.Data.SecurityAdvisories.Nodes
	if len(nodes) == 0 {
		// No advisory for this CVE; a valid result.
		return types.GHSAAdvisory{}, nil
	}
	return convertNode(nodes[0]), nil
}

func convertNode(n advisoryNode) types.GHSAAdvisory {
	adv := types.GHSAAdvisory{
		ID:       n.GHSAID,
		Summary:  n.Summary,
		Severity: n.Severity,
	}
	for _, r := range n.References {
		adv.References = append(adv.References, r.URL)
	}
	for _, v := range n.Vulnerabilities.Nodes {
		gv := types.GHSAVulnerability{
			Ecosystem:              v.Package.Ecosystem,
			Package:                v.Package.Name,
			VulnerableVersionRange: v.VulnerableVersionRange,
		}
		if v.FirstPatchedVersion != nil {
			gv.FirstPatchedVersion = v.FirstPatchedVersion.Identifier
		}
		adv.Vulnerabilities = append(adv.Vulnerabilities, gv)
	}
	return adv
}
