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

package ruleconfig

import (
	"context"
	"fmt"
	"log/slog"

	"gateway/modules/ratelimit"

	"github.com/redis/rueidis"
)

// Store key schema; stable for external consumers of the event channel.
const (
	keyRulesIP     = "rl:config:rules_ip"
	keyRulesPath   = "rl:config:rules_path"
	keyRulesIPPath = "rl:config:rules_ip_path"
	keyUpdatedAt   = "rl:config:updated_at"
	eventChannel   = "rl:config:events"
)

var _ ratelimit.RuleConfigStore = (*RedisRuleConfig)(nil)

// RedisRuleConfig persists the rule configuration under the rl:config:* keys
// and publishes change events on rl:config:events.
type RedisRuleConfig struct {
	client rueidis.Client
}

func NewRedisRuleConfig(client rueidis.Client) *RedisRuleConfig {
	return &RedisRuleConfig{client: client}
}

// Load implements ratelimit.RuleConfigStore. All four values are read in one
// pipelined round trip; a missing key yields a nil slice.
func (s *RedisRuleConfig) Load(ctx context.Context) (ratelimit.RawRuleConfig, error) {
	keys := []string{keyRulesIP, keyRulesPath, keyRulesIPPath, keyUpdatedAt}
	cmds := make([]rueidis.Completed, len(keys))
	for i, k := range keys {
		cmds[i] = s.client.B().Get().Key(k).Build()
	}

	vals := make([][]byte, len(keys))
	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		bs, err := resp.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return ratelimit.RawRuleConfig{}, fmt.Errorf("load rule config %q: %w", keys[i], err)
		}
		vals[i] = bs
	}
	return ratelimit.RawRuleConfig{
		IP:        vals[0],
		Path:      vals[1],
		IPPath:    vals[2],
		UpdatedAt: vals[3],
	}, nil
}

// Store implements ratelimit.RuleConfigStore. The four SETs go out in one
// round trip; the event publish follows separately and its failure is only
// logged, since rule propagation falls back to the TTL refresh.
func (s *RedisRuleConfig) Store(ctx context.Context, cfg ratelimit.RawRuleConfig, event []byte) error {
	cmds := []rueidis.Completed{
		s.client.B().Set().Key(keyRulesIP).Value(rueidis.BinaryString(cfg.IP)).Build(),
		s.client.B().Set().Key(keyRulesPath).Value(rueidis.BinaryString(cfg.Path)).Build(),
		s.client.B().Set().Key(keyRulesIPPath).Value(rueidis.BinaryString(cfg.IPPath)).Build(),
		s.client.B().Set().Key(keyUpdatedAt).Value(rueidis.BinaryString(cfg.UpdatedAt)).Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("store rule config: %w", err)
		}
	}

	if len(event) > 0 {
		cmd := s.client.B().Publish().Channel(eventChannel).Message(rueidis.BinaryString(event)).Build()
		if err := s.client.Do(ctx, cmd).Error(); err != nil {
			slog.Debug("rule config event publish failed", slog.Any("error", err))
		}
	}
	return nil
}
