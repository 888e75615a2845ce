// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the per-source file-backed key/value cache used
// by every remote-data source. Each logical source owns one JSON file under
// the cache directory; freshness is derived from the file's modification
// time, so the file itself carries no TTL.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quay/zlog"
)

// DefaultTTL is the freshness window applied when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Store is a file-backed key/value cache for a single source.
//
// A Store past its TTL answers Get with a miss so callers go to the
// network, but the expired payload stays available through Stale as the
// fallback for a failed refetch. Corrupt cache files are discarded as if
// absent. Writes are serialized; reads may proceed concurrently.
type Store struct {
	path string
	ttl  time.Duration

	mu      sync.RWMutex
	once    sync.Once
	entries map[string]json.RawMessage
	stale   map[string]json.RawMessage
}

// New creates a Store for the named source, backed by
// <dir>/<source>_cache.json. A non-positive ttl selects DefaultTTL.
func New(dir, source string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		path: filepath.Join(dir, source+"_cache.json"),
		ttl:  ttl,
	}
}

// Get returns the cached value for key. It reports a miss when the backing
// file is absent, unreadable, corrupt, or older than the TTL.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	s.ensure(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// GetJSON unmarshals the cached value for key into dst, reporting whether a
// fresh value was found.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Stale returns the expired value retained for key, if any. Used as the
// fallback when a refetch fails.
func (s *Store) Stale(ctx context.Context, key string) (json.RawMessage, bool) {
	s.ensure(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.stale[key]
	return v, ok
}

// StaleJSON unmarshals the retained stale value for key into dst.
func (s *Store) StaleJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Stale(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Put stores value under key and rewrites the backing file, resetting the
// file's freshness. Persistence failures are logged and swallowed: the
// cache is an optimization, never a correctness requirement.
func (s *Store) Put(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("key", key).Msg("not caching unmarshalable value")
		return
	}
	s.ensure(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = raw
	s.persist(ctx)
}

// PutAll stores every value and rewrites the backing file once, so bulk
// updates cost one write regardless of size. Unmarshalable values are
// logged and skipped without blocking the rest of the batch.
func (s *Store) PutAll(ctx context.Context, values map[string]any) {
	if len(values) == 0 {
		return
	}
	s.ensure(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("key", key).Msg("not caching unmarshalable value")
			continue
		}
		s.entries[key] = raw
	}
	s.persist(ctx)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ensure loads the backing file exactly once per Store.
func (s *Store) ensure(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.load(ctx)
	})
}

func (s *Store) load(ctx context.Context) {
	ctx = zlog.ContextWithValues(ctx, "component", "cache/Store.load", "path", s.path)
	s.entries = make(map[string]json.RawMessage)

	fi, err := os.Stat(s.path)
	if err != nil {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("unreadable cache file, treating as empty")
		return
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		zlog.Warn(ctx).Err(err).Msg("corrupt cache file, treating as empty")
		return
	}
	if age := time.Since(fi.ModTime()); age > s.ttl {
		zlog.Debug(ctx).Dur("age", age).Msg("cache expired, retaining entries for fallback")
		s.stale = m
		return
	}
	s.entries = m
}

// persist rewrites the backing file from the in-memory map. Callers hold
// the write lock, so there is a single writer per file.
func (s *Store) persist(ctx context.Context) {
	ctx = zlog.ContextWithValues(ctx, "component", "cache/Store.persist", "path", s.path)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		zlog.Warn(ctx).Err(err).Msg("creating cache dir failed, skipping persist")
		return
	}
	data, err := json.Marshal(s.entries)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("marshaling cache failed, skipping persist")
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		zlog.Warn(ctx).Err(err).Msg("writing cache file failed")
	}
}
