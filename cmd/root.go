// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/epss"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/exploit"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/ghsa"
	"github.com/bonial-oss/vuln-risk-prio/internal/datasource/kev"
	"github.com/bonial-oss/vuln-risk-prio/internal/enricher"
	"github.com/bonial-oss/vuln-risk-prio/internal/input"
	"github.com/bonial-oss/vuln-risk-prio/internal/output"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes. Partial enrichment due to an unreachable upstream source is
// not a failure; only input and configuration problems are.
const (
	exitInputError  = 2
	exitConfigError = 3
)

// ExitError signals a non-zero exit code with an optional message.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Options holds all CLI flag values.
type Options struct {
	Format      string
	Output      string
	SortBy      string
	CacheDir    string
	CacheTTL    time.Duration
	Timeout     time.Duration
	Concurrency int
	NoGHSA      bool
	NoExploit   bool
	LogLevel    string
}

// initConfig wires viper defaults and environment bindings. Credentials
// come exclusively from the environment; their absence disables the
// respective source without error.
func initConfig() {
	viper.SetDefault("cache_ttl", "24h")
	viper.SetDefault("concurrency", enricher.DefaultConcurrency)
	viper.SetDefault("log_level", "warn")
	_ = viper.BindEnv("github_token", "GITHUB_TOKEN")
	_ = viper.BindEnv("vulncheck_api_key", "VULNCHECK_API_KEY")
	_ = viper.BindEnv("cache_dir", "VULN_PRIO_CACHE_DIR")
}

// NewRootCommand creates the root cobra command with all flags.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:     "vuln-prio",
		Short:   "Enrich vulnerability findings with KEV, EPSS, GHSA, and exploit intelligence",
		Version: Version,
		Long: `vuln-prio reads a JSON list of vulnerability findings from stdin (an
OSV-style scan result), enriches each finding with CISA KEV status, EPSS
exploit-prediction scores, GitHub Security Advisory metadata, and optional
commercial exploit intelligence, then assigns a composite risk score and
priority tier.

Usage:
  osv-scan ... | vuln-prio
  vuln-prio --format table < findings.json

Environment:
  GITHUB_TOKEN        authenticate GHSA GraphQL queries
  VULNCHECK_API_KEY   enable the exploit-intelligence source
  VULN_PRIO_CACHE_DIR override the cache directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			initConfig()
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Format, "format", "json", "Output format: json, table")
	flags.StringVarP(&opts.Output, "output", "o", "", "Write to file instead of stdout")
	flags.StringVar(&opts.SortBy, "sort-by", "risk", "Sort table by: risk, priority, epss, cve")
	flags.StringVar(&opts.CacheDir, "cache-dir", "", "Override cache directory")
	flags.DurationVar(&opts.CacheTTL, "cache-ttl", 0, "Cache freshness window (default 24h)")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Overall enrichment deadline, 0 for none")
	flags.IntVar(&opts.Concurrency, "concurrency", 0, "Concurrent per-finding enrichments (default 8)")
	flags.BoolVar(&opts.NoGHSA, "no-ghsa", false, "Disable GHSA advisory enrichment")
	flags.BoolVar(&opts.NoExploit, "no-exploit", false, "Disable exploit-intelligence enrichment")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

// run orchestrates the full enrichment pipeline.
func run(opts *Options) error {
	if err := setupLogging(opts.LogLevel); err != nil {
		return &ExitError{Code: exitConfigError, Message: err.Error()}
	}

	if opts.Format != "json" && opts.Format != "table" {
		return &ExitError{
			Code:    exitConfigError,
			Message: fmt.Sprintf("unsupported output format: %s", opts.Format),
		}
	}

	// Read all of stdin.
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return &ExitError{Code: exitInputError, Message: "no input provided on stdin"}
	}

	doc, err := input.Parse(data)
	if err != nil {
		return &ExitError{Code: exitInputError, Message: fmt.Sprintf("parsing input: %v", err)}
	}

	cacheDir, err := resolveCacheDir(opts.CacheDir)
	if err != nil {
		return &ExitError{Code: exitConfigError, Message: err.Error()}
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		if d, err := time.ParseDuration(viper.GetString("cache_ttl")); err == nil {
			ttl = d
		}
	}

	// Initialize data sources. KEV and EPSS are always on; GHSA and
	// exploit intel can be flagged off, and the latter silently degrades
	// without a credential anyway.
	kevSource := kev.NewSource(cacheDir, ttl)
	epssSource := epss.NewSource(cacheDir, ttl)
	var ghsaSource *ghsa.Source
	if !opts.NoGHSA {
		ghsaSource = ghsa.NewSource(cacheDir, ttl, viper.GetString("github_token"))
	}
	var exploitSource *exploit.Source
	if !opts.NoExploit {
		exploitSource = exploit.NewSource(cacheDir, ttl, viper.GetString("vulncheck_api_key"))
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = viper.GetInt("concurrency")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	agg := enricher.New(kevSource, epssSource, ghsaSource, exploitSource, concurrency)
	result := agg.EnrichAll(ctx, doc)

	// Partial enrichment is reported, never fatal.
	for source, msg := range result.SourceErrors {
		fmt.Fprintf(os.Stderr, "warning: %s enrichment degraded: %s\n", source, msg)
	}

	var w io.Writer
	if opts.Output != "" && opts.Output != "-" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	switch opts.Format {
	case "json":
		return output.WriteReport(w, result.Document, result.Summary, result.SourceErrors)
	case "table":
		tableCfg := output.TableConfig{
			SortBy:     opts.SortBy,
			IsTerminal: output.IsOutputToTerminal(w),
		}
		return output.WriteTable(w, result.Document, result.Summary, tableCfg)
	}
	return nil
}

// setupLogging sets the global zerolog level; zlog events below it are
// dropped.
func setupLogging(level string) error {
	if level == "" {
		level = viper.GetString("log_level")
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// resolveCacheDir picks the cache directory: flag, then environment, then
// the user cache dir.
func resolveCacheDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := viper.GetString("cache_dir"); env != "" {
		return env, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("determining cache directory: %v", err)
	}
	return filepath.Join(base, "vuln-prio"), nil
}
