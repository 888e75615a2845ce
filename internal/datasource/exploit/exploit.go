// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package exploit queries a commercial exploit-intelligence API for
// weaponization status. The source is credential-gated: without an API key
// it degrades silently to "no data".
package exploit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/singleflight"

	"github.com/bonial-oss/vuln-risk-prio/internal/cache"
	"github.com/bonial-oss/vuln-risk-prio/internal/faults"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

const (
	cacheSource = "exploit"

	defaultEndpoint = "https://api.vulncheck.com/v3/index/exploits"
	fetchTimeout    = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024 // 10 MB
)

// disabledNote marks findings enriched while no credential is configured.
const disabledNote = "credential required"

// Source provides per-CVE exploit-intelligence lookups.
type Source struct {
	client   *http.Client
	endpoint string
	apiKey   string
	cache    *cache.Store
	sf       singleflight.Group
}

// NewSource creates an exploit-intel source caching under
// cacheDir/exploit_cache.json. An empty apiKey disables the source.
func NewSource(cacheDir string, ttl time.Duration, apiKey string) *Source {
	return &Source{
		client:   &http.Client{Timeout: fetchTimeout},
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		cache:    cache.New(cacheDir, cacheSource, ttl),
	}
}

// Enabled reports whether an API key is configured.
func (s *Source) Enabled() bool { return s.apiKey != "" }

// QueryExploit returns exploit intelligence for the CVE. Without a
// credential it returns {available:false} with an explanatory note; this
// is a normal degraded mode, not an error.
func (s *Source) QueryExploit(ctx context.Context, cve string) (types.ExploitData, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datasource/exploit/Source.QueryExploit")
	if !types.IsCVE(cve) {
		return types.ExploitData{}, faults.Validationf("malformed CVE identifier %q", cve)
	}
	if !s.Enabled() {
		return types.ExploitData{Available: false, Note: disabledNote}, nil
	}
	cve = types.NormalizeCVE(cve)

	var cached types.ExploitData
	if s.cache.GetJSON(ctx, cve, &cached) {
		return cached, nil
	}

	v, err, _ := s.sf.Do(cve, func() (any, error) {
		return s.query(ctx, cve)
	})
	if err == nil {
		data := v.(types.ExploitData)
		s.cache.Put(ctx, cve, data)
		return data, nil
	}

	var stale types.ExploitData
	if s.cache.StaleJSON(ctx, cve, &stale) {
		zlog.Warn(ctx).Err(err).Str("cve", cve).Msg("exploit-intel query failed, using stale record")
		return stale, nil
	}

	return types.ExploitData{}, faults.Network("querying exploit intelligence", err)
}

// Enrich attaches exploit intelligence to the finding. A weaponized
// exploit raises the priority to at least P1-CRITICAL; an existing
// P0-IMMEDIATE (from KEV) is never downgraded.
func (s *Source) Enrich(ctx context.Context, f *types.Finding) error {
	id, ok := f.CVEID()
	if !ok || !types.IsCVE(id) {
		return nil
	}
	data, err := s.QueryExploit(ctx, id)
	if err != nil {
		return err
	}
	f.Exploit = &data

	if data.Weaponized && f.Priority != types.P0Immediate {
		f.Priority = types.Higher(f.Priority, types.P1Critical)
		f.AddContext("Weaponized exploit available")
	}
	return nil
}

// intelResponse is the exploit-intelligence API envelope.
type intelResponse struct {
	Data []intelRow `json:"data"`
}

type intelRow struct {
	CVE          string `json:"cve"`
	Maturity     string `json:"maturity"`
	Weaponized   bool   `json:"weaponized"`
	AttackVector string `json:"attack_vector"`
}

func (s *Source) query(ctx context.Context, cve string) (types.ExploitData, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return types.ExploitData{}, err
	}
	q := u.Query()
	q.Set("cve", cve)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return types.ExploitData{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.ExploitData{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return types.ExploitData{}, fmt.Errorf("HTTP %d from exploit-intel endpoint", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return types.ExploitData{}, fmt.Errorf("reading response body: %w", err)
	}

	var envelope intelResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return types.ExploitData{}, fmt.Errorf("unmarshaling exploit-intel response: %w", err)
	}

	if len(envelope.Data) == 0 {
		return types.ExploitData{Available: false}, nil
	}
	row := envelope.Data[0]
	return types.ExploitData{
		Available:    true,
		Weaponized:   row.Weaponized,
		Maturity:     row.Maturity,
		AttackVector: row.AttackVector,
	}, nil
}
