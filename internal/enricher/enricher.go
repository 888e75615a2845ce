// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package enricher orchestrates the per-source enrichment of a findings
// document and fuses the attached signals into a risk score and priority
// tier per finding.
package enricher

import (
	"context"
	"sync"

	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/epss"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/exploit"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/ghsa"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/kev"
	"github.com/bonial-oss/vuln-risk-prio/internal/types"
)

// DefaultConcurrency bounds the per-finding enrichment fan-out.
const DefaultConcurrency = 8

// Aggregator runs the enrichment pipeline. Any source may be nil, in which
// case its stage is skipped.
type Aggregator struct {
	kev         *kev.Source
	epss        *epss.Source
	ghsa        *ghsa.Source
	exploit     *exploit.Source
	concurrency int64
}

// Result holds the enriched document, the priority distribution, and any
// per-source failure annotations. Source failures never abort the
// pipeline; they are surfaced here alongside the partial result.
type Result struct {
	Document     *types.Document
	Summary      types.Summary
	SourceErrors map[string]string
}

// New creates an Aggregator over the given sources. A non-positive
// concurrency selects DefaultConcurrency.
func New(kevSrc *kev.Source, epssSrc *epss.Source, ghsaSrc *ghsa.Source, exploitSrc *exploit.Source, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Aggregator{
		kev:         kevSrc,
		epss:        epssSrc,
		ghsa:        ghsaSrc,
		exploit:     exploitSrc,
		concurrency: int64(concurrency),
	}
}

// EnrichAll enriches every finding in the document and assigns risk scores
// and priorities. The EPSS batch runs once up front; per-finding KEV,
// exploit, and GHSA enrichment then fan out under a bounded worker pool.
// Findings keep their input positions regardless of scheduling. On
// cancellation, already-enriched findings are retained and the result is
// returned as partial. Non-object document elements pass through
// unchanged.
func (a *Aggregator) EnrichAll(ctx context.Context, doc *types.Document) *Result {
	ctx = zlog.ContextWithValues(ctx, "component", "enricher/Aggregator.EnrichAll")

	res := &Result{Document: doc, SourceErrors: make(map[string]string)}
	var errMu sync.Mutex
	record := func(source string, err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if _, ok := res.SourceErrors[source]; !ok {
			res.SourceErrors[source] = err.Error()
		}
	}

	findings := doc.Findings()
	zlog.Debug(ctx).Int("findings", len(findings)).Msg("starting enrichment")

	if a.kev != nil {
		if err := a.kev.Load(ctx); err != nil {
			record("kev", err)
			zlog.Warn(ctx).Err(err).Msg("KEV catalog unavailable")
		}
	}

	if a.epss != nil {
		if err := a.epss.EnrichBatch(ctx, findings); err != nil {
			record("epss", err)
		}
	}

	sem := semaphore.NewWeighted(a.concurrency)
	var wg sync.WaitGroup
	for _, f := range findings {
		if err := sem.Acquire(ctx, 1); err != nil {
			record("pipeline", err)
			zlog.Warn(ctx).Err(err).Msg("enrichment canceled, returning partial results")
			break
		}
		wg.Add(1)
		go func(f *types.Finding) {
			defer wg.Done()
			defer sem.Release(1)
			a.enrichOne(ctx, f, record)
		}(f)
	}
	wg.Wait()

	for _, f := range findings {
		score := Score(f)
		f.RiskScore = &score
		f.Priority = PriorityFor(f, score)
	}

	res.Summary = Summarize(doc)
	return res
}

// enrichOne runs the per-finding stages in signal order: KEV first (it may
// pin the priority), then exploit intelligence, then advisory metadata.
func (a *Aggregator) enrichOne(ctx context.Context, f *types.Finding, record func(string, error)) {
	if a.kev != nil {
		a.kev.Enrich(ctx, f)
	}
	if a.exploit != nil {
		if err := a.exploit.Enrich(ctx, f); err != nil {
			record("exploit", err)
		}
	}
	if a.ghsa != nil {
		if err := a.ghsa.Enrich(ctx, f); err != nil {
			record("ghsa", err)
		}
	}
}

// Summarize counts findings per priority tier, skipping elements without
// an assigned priority.
func Summarize(doc *types.Document) types.Summary {
	s := make(types.Summary)
	for _, f := range doc.Findings() {
		if f.Priority == "" {
			continue
		}
		s[f.Priority]++
	}
	return s
}
