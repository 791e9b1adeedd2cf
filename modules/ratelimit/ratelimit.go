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
	"time"
)

// Scope is the rule class a window counter belongs to.
type Scope string

const (
	ScopeIP     Scope = "ip"
	ScopePath   Scope = "path"
	ScopeIPPath Scope = "ippath"
)

type (
	// IPPathRule limits requests from one IP to paths under one prefix.
	IPPathRule struct {
		IP         string `json:"ip"`
		PathPrefix string `json:"path_prefix"`
		Limit      int    `json:"limit"`
	}

	// RuleSet is the full rule configuration: per-IP limits, per-path-prefix
	// limits (aggregated across clients), and combined IP+path rules.
	// IPPath preserves configured order and may contain duplicates.
	RuleSet struct {
		IP        map[string]int `json:"ip"`
		Path      map[string]int `json:"path"`
		IPPath    []IPPathRule   `json:"ip_path"`
		UpdatedAt *float64       `json:"updated_at"`
	}

	// MatchedRule identifies one rule that applied to a request.
	// Identifier is the IP, the path prefix, or "ip:prefix" depending on Scope.
	MatchedRule struct {
		Scope      Scope
		Identifier string
		Limit      int
	}

	// Decision is the outcome of a rate limit check.
	//
	// Rule is nil when no rule matched (unrestricted traffic). On deny it is
	// the first violated rule in match order; on allow it is the most
	// specific matched rule, for quota reporting.
	Decision struct {
		Allowed   bool
		Rule      *MatchedRule
		Remaining int
		ResetIn   int // seconds until the current window ends
	}

	// RawRuleConfig holds the four persisted rule values as stored. A nil
	// slice means the key is missing from the store.
	RawRuleConfig struct {
		IP        []byte
		Path      []byte
		IPPath    []byte
		UpdatedAt []byte
	}

	// WindowStore increments fixed-window counters in the shared store.
	// All keys are incremented and have their expiry refreshed in a single
	// pipelined round trip; the returned counts are post-increment values in
	// key order.
	WindowStore interface {
		IncrExpire(ctx context.Context, keys []string, ttl time.Duration) ([]int64, error)
	}

	// RuleConfigStore persists the rule configuration in the shared store.
	// Store writes all four values in one round trip and publishes event on
	// the config channel; a failed publish must not fail the write.
	RuleConfigStore interface {
		Load(ctx context.Context) (RawRuleConfig, error)
		Store(ctx context.Context, cfg RawRuleConfig, event []byte) error
	}
)

// Clone returns a deep copy so callers can hold a snapshot without racing
// concurrent replacements.
func (rs RuleSet) Clone() RuleSet {
	out := RuleSet{
		IP:     make(map[string]int, len(rs.IP)),
		Path:   make(map[string]int, len(rs.Path)),
		IPPath: make([]IPPathRule, len(rs.IPPath)),
	}
	for k, v := range rs.IP {
		out.IP[k] = v
	}
	for k, v := range rs.Path {
		out.Path[k] = v
	}
	copy(out.IPPath, rs.IPPath)
	if rs.UpdatedAt != nil {
		ts := *rs.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}
