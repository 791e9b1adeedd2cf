// Copyright 2025 The gateway authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gateway/modules/clock"
)

// minCacheTTL floors the rule cache TTL so a misconfigured zero value cannot
// serialize every request through the store.
const minCacheTTL = time.Second

// RuleStore holds the three rule tables in memory, refreshed from the shared
// store on a TTL and replaced wholesale so concurrent readers always see a
// complete snapshot. Across processes consistency is eventual, bounded by the
// TTL; last writer wins at the store.
type RuleStore struct {
	store    RuleConfigStore
	defaults RuleSet
	ttl      time.Duration
	clock    clock.Clock

	mu          sync.Mutex
	current     RuleSet
	lastRefresh time.Time
}

// NewRuleStore builds a RuleStore seeded with the process defaults. The
// defaults are normalized on the way in; the first Rules call refreshes from
// the store.
func NewRuleStore(store RuleConfigStore, defaults RuleSet, ttl time.Duration, clk clock.Clock) *RuleStore {
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	seeded := RuleSet{
		IP:     NormalizeLimitMap(defaults.IP),
		Path:   NormalizeLimitMap(defaults.Path),
		IPPath: NormalizeIPPathRules(defaults.IPPath),
	}
	return &RuleStore{
		store:    store,
		defaults: seeded,
		ttl:      ttl,
		clock:    clk,
		current:  seeded.Clone(),
	}
}

// Defaults returns the process-configured default rule set.
func (s *RuleStore) Defaults() RuleSet {
	return s.defaults.Clone()
}

// Rules returns the current rule set, first refreshing from the store when
// the cache is older than the TTL. A missing or malformed persisted value
// for one rule class keeps the previously-held value for that class only;
// a failed store round trip is propagated.
func (s *RuleStore) Rules(ctx context.Context) (RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < s.ttl {
		return s.current.Clone(), nil
	}

	raw, err := s.store.Load(ctx)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load rate limit rules: %w", err)
	}

	next := s.current.Clone()
	if raw.IP != nil {
		if m, err := decodeLimitMap(raw.IP); err != nil {
			slog.Warn("malformed persisted ip rules, keeping previous", slog.Any("error", err))
		} else {
			next.IP = m
		}
	}
	if raw.Path != nil {
		if m, err := decodeLimitMap(raw.Path); err != nil {
			slog.Warn("malformed persisted path rules, keeping previous", slog.Any("error", err))
		} else {
			next.Path = m
		}
	}
	if raw.IPPath != nil {
		if rules, err := decodeIPPathRules(raw.IPPath); err != nil {
			slog.Warn("malformed persisted ip_path rules, keeping previous", slog.Any("error", err))
		} else {
			next.IPPath = rules
		}
	}
	next.UpdatedAt = nil
	if raw.UpdatedAt != nil {
		if ts, err := strconv.ParseFloat(string(raw.UpdatedAt), 64); err == nil {
			next.UpdatedAt = &ts
		}
	}

	s.current = next
	s.lastRefresh = now
	return s.current.Clone(), nil
}

// configEvent is the payload published on the config channel on every write.
// The wire format is stable for external listeners.
type configEvent struct {
	Ts     float64        `json:"ts"`
	IP     map[string]int `json:"ip"`
	Path   map[string]int `json:"path"`
	IPPath []IPPathRule   `json:"ip_path"`
}

// SetRules normalizes the three rule tables, persists all four config values
// in one round trip, publishes a change event, updates the in-memory cache
// immediately and returns the effective rule set.
func (s *RuleStore) SetRules(ctx context.Context, ip, path map[string]int, ipPath []IPPathRule) (RuleSet, error) {
	normIP := NormalizeLimitMap(ip)
	normPath := NormalizeLimitMap(path)
	normIPPath := NormalizeIPPathRules(ipPath)

	now := s.clock.Now()
	ts := float64(now.UnixNano()) / float64(time.Second)

	ipPayload, err := json.Marshal(normIP)
	if err != nil {
		return RuleSet{}, fmt.Errorf("encode ip rules: %w", err)
	}
	pathPayload, err := json.Marshal(normPath)
	if err != nil {
		return RuleSet{}, fmt.Errorf("encode path rules: %w", err)
	}
	ipPathPayload, err := json.Marshal(normIPPath)
	if err != nil {
		return RuleSet{}, fmt.Errorf("encode ip_path rules: %w", err)
	}
	event, err := json.Marshal(configEvent{Ts: ts, IP: normIP, Path: normPath, IPPath: normIPPath})
	if err != nil {
		return RuleSet{}, fmt.Errorf("encode config event: %w", err)
	}

	raw := RawRuleConfig{
		IP:        ipPayload,
		Path:      pathPayload,
		IPPath:    ipPathPayload,
		UpdatedAt: []byte(strconv.FormatFloat(ts, 'f', -1, 64)),
	}
	if err := s.store.Store(ctx, raw, event); err != nil {
		return RuleSet{}, fmt.Errorf("persist rate limit rules: %w", err)
	}

	next := RuleSet{IP: normIP, Path: normPath, IPPath: normIPPath, UpdatedAt: &ts}

	s.mu.Lock()
	s.current = next.Clone()
	s.lastRefresh = s.clock.Now()
	s.mu.Unlock()

	slog.Info("rate limit rules updated",
		slog.Int("ip_rules", len(normIP)),
		slog.Int("path_rules", len(normPath)),
		slog.Int("ip_path_rules", len(normIPPath)),
	)
	return next, nil
}
