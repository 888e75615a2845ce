// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package epss fetches exploit-prediction scores from the FIRST.org EPSS
// API and maps them onto priority bands.
package epss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/bonial-oss/vuln-risk-prio/internal/cache"
	"github.com/bonial-oss/vuln-risk-prio/internal/faults"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

const (
	cacheSource = "epss"

	defaultBaseURL = "https://api.first.org/data/v1/epss"
	fetchTimeout   = 30 * time.Second

	// batchSize matches the upstream API's accepted batch size.
	batchSize = 100

	maxResponseSize = 10 * 1024 * 1024 // 10 MB
)

// Priority band thresholds over the EPSS score.
const (
	bandCritical = 0.75
	bandHigh     = 0.50
	bandMedium   = 0.25
)

// Source provides batched EPSS lookups with per-CVE caching.
type Source struct {
	client  *http.Client
	baseURL string
	cache   *cache.Store
}

// NewSource creates an EPSS source caching under cacheDir/epss_cache.json.
func NewSource(cacheDir string, ttl time.Duration) *Source {
	return &Source{
		client:  &http.Client{Timeout: fetchTimeout},
		baseURL: defaultBaseURL,
		cache:   cache.New(cacheDir, cacheSource, ttl),
	}
}

// PriorityBand maps an EPSS score onto a band: >=0.75 CRITICAL, >=0.50
// HIGH, >=0.25 MEDIUM, else LOW. Scores outside [0,1] are a validation
// error.
func PriorityBand(score float64) (string, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return "", faults.Validationf("EPSS score %v outside [0,1]", score)
	}
	switch {
	case score >= bandCritical:
		return "CRITICAL", nil
	case score >= bandHigh:
		return "HIGH", nil
	case score >= bandMedium:
		return "MEDIUM", nil
	default:
		return "LOW", nil
	}
}

// FetchScores resolves EPSS records for the given CVE list, splitting the
// network work into batches of 100. Every identifier is validated before
// any call is issued; a single malformed id fails the whole request.
// Fresh cache hits are served without network calls; on a batch's network
// failure, stale cached values stand in for its CVEs. The returned error
// is non-nil only when the network failed and nothing could be served.
func (s *Source) FetchScores(ctx context.Context, cves []string) (map[string]types.EPSSRecord, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datasource/epss/Source.FetchScores")

	for _, cve := range cves {
		if !types.IsCVE(cve) {
			return nil, faults.Validationf("malformed CVE identifier %q", cve)
		}
	}

	result := make(map[string]types.EPSSRecord, len(cves))
	seen := make(map[string]bool, len(cves))
	var misses []string
	for _, cve := range cves {
		cve = types.NormalizeCVE(cve)
		if seen[cve] {
			continue
		}
		seen[cve] = true
		var rec types.EPSSRecord
		if s.cache.GetJSON(ctx, cve, &rec) {
			result[cve] = rec
			continue
		}
		misses = append(misses, cve)
	}

	var lastErr error
	for start := 0; start < len(misses); start += batchSize {
		end := min(start+batchSize, len(misses))
		batch := misses[start:end]

		records, err := s.fetchBatch(ctx, batch)
		if err != nil {
			lastErr = err
			served := 0
			for _, cve := range batch {
				var rec types.EPSSRecord
				if s.cache.StaleJSON(ctx, cve, &rec) {
					result[cve] = rec
					served++
				}
			}
			zlog.Warn(ctx).Err(err).
				Int("batch", len(batch)).
				Int("staleServed", served).
				Msg("EPSS batch fetch failed")
			continue
		}
		puts := make(map[string]any, len(records))
		for cve, rec := range records {
			result[cve] = rec
			puts[cve] = rec
		}
		s.cache.PutAll(ctx, puts)
	}

	if lastErr != nil && len(result) == 0 {
		return nil, faults.Network("fetching EPSS scores", lastErr)
	}
	return result, nil
}

// EnrichBatch attaches EPSS data to every finding whose CVE id resolves,
// issuing one FetchScores call for the full set. Findings without a
// resolvable CVE id pass through unmodified. A total network failure
// degrades the whole batch to "no EPSS data attached" and is reported for
// annotation, never as a pipeline failure.
func (s *Source) EnrichBatch(ctx context.Context, findings []*types.Finding) error {
	ctx = zlog.ContextWithValues(ctx, "component", "datasource/epss/Source.EnrichBatch")

	var cves []string
	for _, f := range findings {
		if id, ok := f.CVEID(); ok && types.IsCVE(id) {
			cves = append(cves, id)
		}
	}
	if len(cves) == 0 {
		return nil
	}

	records, err := s.FetchScores(ctx, cves)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("EPSS data unavailable, batch not enriched")
		return err
	}

	for _, f := range findings {
		id, ok := f.CVEID()
		if !ok || !types.IsCVE(id) {
			continue
		}
		rec, ok := records[types.NormalizeCVE(id)]
		if !ok {
			continue
		}
		band, err := PriorityBand(rec.Score)
		if err != nil {
			zlog.Warn(ctx).Str("cve", rec.CVE).Float64("score", rec.Score).Msg("dropping out-of-range EPSS score")
			continue
		}
		f.EPSS = &types.EPSSData{
			Score:                   rec.Score,
			Percentile:              rec.Percentile,
			ExploitationProbability: fmt.Sprintf("%.1f%%", rec.Score*100),
			Band:                    band,
			AsOfDate:                rec.AsOfDate,
		}
	}
	return nil
}

// epssResponse is the FIRST.org API envelope. Score fields arrive as
// decimal strings.
type epssResponse struct {
	Status string    `json:"status"`
	Data   []epssRow `json:"data"`
}

type epssRow struct {
	CVE        string `json:"cve"`
	EPSS       string `json:"epss"`
	Percentile string `json:"percentile"`
	Date       string `json:"date"`
}

// fetchBatch issues one GET for up to batchSize CVEs. Rows missing their
// cve field or carrying a non-numeric score are dropped rather than
// failing the batch.
func (s *Source) fetchBatch(ctx context.Context, cves []string) (map[string]types.EPSSRecord, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("cve", strings.Join(cves, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
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
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, u.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var envelope epssResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling EPSS response: %w", err)
	}

	records := make(map[string]types.EPSSRecord, len(envelope.Data))
	for _, row := range envelope.Data {
		if row.CVE == "" {
			zlog.Debug(ctx).Msg("skipping EPSS row without cve field")
			continue
		}
		score, err := strconv.ParseFloat(row.EPSS, 64)
		if err != nil {
			zlog.Debug(ctx).Str("cve", row.CVE).Str("epss", row.EPSS).Msg("skipping EPSS row with non-numeric score")
			continue
		}
		percentile, err := strconv.ParseFloat(row.Percentile, 64)
		if err != nil {
			percentile = 0
		}
		cve := types.NormalizeCVE(row.CVE)
		records[cve] = types.EPSSRecord{
			CVE:        cve,
			Score:      score,
			Percentile: percentile,
			AsOfDate:   row.Date,
		}
	}
	return records, nil
}
