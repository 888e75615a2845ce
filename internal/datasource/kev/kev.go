// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package kev answers "is this CVE actively exploited?" from the CISA
// Known Exploited Vulnerabilities catalog.
package kev

import (
	"context"
	"encoding/json"
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
	cacheSource = "kev"
	catalogKey  = "catalog"

	primaryURL      = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	fallbackURL     = "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json"
	fetchTimeout    = 30 * time.Second
	maxResponseSize = 50 * 1024 * 1024 // 50 MB
)

// exploitedContext is appended to a finding's risk context on a KEV hit.
const exploitedContext = "Actively exploited in the wild (CISA KEV)"

// Source provides KEV lookups backed by a local catalog cache. Load must
// succeed (or fall back to a stale catalog) before lookups return hits.
type Source struct {
	client      *http.Client
	primaryURL  string
	fallbackURL string
	cache       *cache.Store
	sf          singleflight.Group
	entries     map[string]types.KEVEntry
}

// NewSource creates a KEV source caching under cacheDir/kev_cache.json.
func NewSource(cacheDir string, ttl time.Duration) *Source {
	return &Source{
		client:      &http.Client{Timeout: fetchTimeout},
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		cache:       cache.New(cacheDir, cacheSource, ttl),
		entries:     make(map[string]types.KEVEntry),
	}
}

// Load fetches and indexes the KEV catalog, using the cache when fresh.
//
// Logic:
//  1. If the cache is fresh and its catalog parses -> use it. A cached
//     catalog that fails schema validation counts as a miss.
//  2. Download the catalog (one in-flight download regardless of callers).
//  3. If the download succeeds -> cache it, parse it.
//  4. If the download fails and a usable stale catalog exists -> warn,
//     parse stale.
//  5. If the download fails and no usable catalog exists -> NetworkError.
func (s *Source) Load(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "datasource/kev/Source.Load")

	if raw, ok := s.cache.Get(ctx, catalogKey); ok {
		err := s.buildIndex(raw)
		if err == nil {
			return nil
		}
		zlog.Warn(ctx).Err(err).Msg("cached KEV catalog unusable, refetching")
	}

	v, err, _ := s.sf.Do(catalogKey, func() (any, error) {
		return s.download(ctx)
	})
	if err == nil {
		data := v.([]byte)
		if err := s.buildIndex(data); err != nil {
			return err
		}
		s.cache.Put(ctx, catalogKey, json.RawMessage(data))
		return nil
	}

	if raw, ok := s.cache.Stale(ctx, catalogKey); ok {
		if ierr := s.buildIndex(raw); ierr == nil {
			zlog.Warn(ctx).Err(err).Msg("KEV download failed, using stale catalog")
			return nil
		}
		zlog.Warn(ctx).Msg("stale KEV catalog unusable, discarding")
	}

	return faults.Network("downloading KEV catalog", err)
}

// IsKnownExploited returns the KEV record for the given CVE. A catalog miss
// yields {inKev:false}; an empty identifier is a validation error.
func (s *Source) IsKnownExploited(cve string) (types.KEVData, error) {
	if cve == "" {
		return types.KEVData{}, faults.Validationf("empty CVE identifier")
	}
	entry, ok := s.entries[types.NormalizeCVE(cve)]
	if !ok {
		return types.KEVData{InKEV: false}, nil
	}
	return types.KEVData{
		InKEV:                      true,
		VulnerabilityName:          entry.VulnerabilityName,
		VendorProject:              entry.VendorProject,
		Product:                    entry.Product,
		DateAdded:                  entry.DateAdded,
		DueDate:                    entry.DueDate,
		RequiredAction:             entry.RequiredAction,
		KnownRansomwareCampaignUse: entry.KnownRansomwareCampaignUse,
	}, nil
}

// Enrich attaches the KEV record to the finding. A finding without a
// CVE-shaped identifier gets {inKev:false} rather than an error. A KEV hit
// is the pipeline's single short-circuit: it pins the finding to
// P0-IMMEDIATE with CRITICAL effective severity, overriding the numeric
// risk score.
func (s *Source) Enrich(ctx context.Context, f *types.Finding) {
	id, ok := f.CVEID()
	if !ok || !types.IsCVE(id) {
		f.KEV = &types.KEVData{InKEV: false}
		return
	}
	data, err := s.IsKnownExploited(id)
	if err != nil {
		// Unreachable with a validated id; treat as a miss.
		f.KEV = &types.KEVData{InKEV: false}
		return
	}
	f.KEV = &data
	if data.InKEV {
		f.EffectiveSeverity = "CRITICAL"
		f.Priority = types.P0Immediate
		f.AddContext(exploitedContext)
		zlog.Debug(ctx).Str("cve", id).Msg("KEV hit, pinned to P0-IMMEDIATE")
	}
}

// buildIndex validates the catalog shape and indexes entries by CVE id.
// The catalog must be a JSON object carrying a "vulnerabilities" array;
// anything else makes the whole catalog unusable. Entries without a CVE id
// are skipped without error.
func (s *Source) buildIndex(data []byte) error {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return faults.Schemaf("kev", "catalog is not a JSON object: %v", err)
	}
	raw, ok := shape["vulnerabilities"]
	if !ok {
		return faults.Schemaf("kev", "catalog missing vulnerabilities array")
	}
	var vulns []types.KEVEntry
	if err := json.Unmarshal(raw, &vulns); err != nil {
		return faults.Schemaf("kev", "vulnerabilities is not an array of entries: %v", err)
	}

	s.entries = make(map[string]types.KEVEntry, len(vulns))
	for _, v := range vulns {
		if v.CVEID == "" {
			continue
		}
		s.entries[types.NormalizeCVE(v.CVEID)] = v
	}
	return nil
}

// download fetches the catalog from the primary URL, falling back to the
// GitHub mirror.
func (s *Source) download(ctx context.Context) ([]byte, error) {
	data, err := s.downloadFrom(ctx, s.primaryURL)
	if err == nil {
		return data, nil
	}

	data, err2 := s.downloadFrom(ctx, s.fallbackURL)
	if err2 == nil {
		return data, nil
	}

	return nil, fmt.Errorf("primary (%s): %w; fallback (%s): %v", s.primaryURL, err, s.fallbackURL, err2)
}

func (s *Source) downloadFrom(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return data, nil
}
