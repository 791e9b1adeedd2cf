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
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"gateway/modules/clock"
)

const (
	windowSeconds = 60
	windowTTL     = windowSeconds * time.Second
)

// Limiter matches requests against the current rule set and counts them in
// fixed 60-second windows in the shared store. All matched counters are
// incremented in one pipelined round trip; correctness across instances
// relies on the store's atomic INCR, not on in-process locking.
type Limiter struct {
	rules   *RuleStore
	windows WindowStore
	clock   clock.Clock
}

func NewLimiter(rules *RuleStore, windows WindowStore, clk clock.Clock) *Limiter {
	return &Limiter{rules: rules, windows: windows, clock: clk}
}

// CheckAndIncrement decides whether a request from clientIP to path is
// allowed. Requests matching no rule bypass the store entirely.
//
// On deny the first violated rule in match order is reported; on allow the
// most specific matched rule is. The asymmetry is deliberate: deny reporting
// must be deterministic and cheap, while the specificity pick on allow
// presents the tightest-binding quota to the caller.
func (l *Limiter) CheckAndIncrement(ctx context.Context, clientIP, path string) (Decision, error) {
	rs, err := l.rules.Rules(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit rules: %w", err)
	}

	now := l.clock.Now()
	windowID := now.Unix() / windowSeconds

	matched := matchRules(rs, clientIP, path)
	if len(matched) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys := make([]string, len(matched))
	for i, m := range matched {
		keys[i] = counterKey(m.Scope, m.Identifier, windowID)
	}
	counts, err := l.windows.IncrExpire(ctx, keys, windowTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counters: %w", err)
	}

	resetIn := resetInSeconds(now, windowID)

	for i, m := range matched {
		if counts[i] > int64(m.Limit) {
			rule := m
			return Decision{
				Allowed:   false,
				Rule:      &rule,
				Remaining: remaining(m.Limit, counts[i]),
				ResetIn:   resetIn,
			}, nil
		}
	}

	best := 0
	for i := 1; i < len(matched); i++ {
		if specificity(matched[i].Scope) < specificity(matched[best].Scope) {
			best = i
		}
	}
	rule := matched[best]
	return Decision{
		Allowed:   true,
		Rule:      &rule,
		Remaining: remaining(rule.Limit, counts[best]),
		ResetIn:   resetIn,
	}, nil
}

// matchRules collects every applicable rule in match order: the client's IP
// rule, then path rules, then IP+path rules in configured order. Path rules
// are visited in sorted prefix order so that violated-rule reporting is
// deterministic across processes.
func matchRules(rs RuleSet, clientIP, path string) []MatchedRule {
	var matched []MatchedRule
	if limit, ok := rs.IP[clientIP]; ok {
		matched = append(matched, MatchedRule{Scope: ScopeIP, Identifier: clientIP, Limit: limit})
	}
	for _, prefix := range slices.Sorted(maps.Keys(rs.Path)) {
		if strings.HasPrefix(path, prefix) {
			matched = append(matched, MatchedRule{Scope: ScopePath, Identifier: prefix, Limit: rs.Path[prefix]})
		}
	}
	for _, r := range rs.IPPath {
		if r.IP == clientIP && r.PathPrefix != "" && strings.HasPrefix(path, r.PathPrefix) {
			matched = append(matched, MatchedRule{
				Scope:      ScopeIPPath,
				Identifier: r.IP + ":" + r.PathPrefix,
				Limit:      r.Limit,
			})
		}
	}
	return matched
}

func counterKey(scope Scope, identifier string, windowID int64) string {
	return fmt.Sprintf("rl:%s:%s:%d", scope, identifier, windowID)
}

// specificity orders matched rules for quota reporting on allow:
// ippath (most specific) > path > ip.
func specificity(s Scope) int {
	switch s {
	case ScopeIPPath:
		return 0
	case ScopePath:
		return 1
	default:
		return 2
	}
}

func remaining(limit int, count int64) int {
	if r := limit - int(count); r > 0 {
		return r
	}
	return 0
}

// resetInSeconds is the whole seconds left until the current window boundary,
// never negative.
func resetInSeconds(now time.Time, windowID int64) int {
	boundary := (windowID + 1) * windowSeconds
	left := float64(boundary) - float64(now.UnixNano())/float64(time.Second)
	if left <= 0 {
		return 0
	}
	return int(left)
}
