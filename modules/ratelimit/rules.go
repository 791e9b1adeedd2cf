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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeLimitMap drops entries whose limit is not a positive integer.
// The returned map is never nil so it marshals as {} rather than null.
func NormalizeLimitMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// NormalizeIPPathRules keeps only entries with a non-empty IP after trimming,
// a non-empty prefix after trimming, and a positive limit. Input order is
// preserved; duplicates are not collapsed.
func NormalizeIPPathRules(in []IPPathRule) []IPPathRule {
	out := make([]IPPathRule, 0, len(in))
	for _, r := range in {
		ip := strings.TrimSpace(r.IP)
		prefix := strings.TrimSpace(r.PathPrefix)
		if ip == "" || prefix == "" || r.Limit <= 0 {
			continue
		}
		out = append(out, IPPathRule{IP: ip, PathPrefix: prefix, Limit: r.Limit})
	}
	return out
}

// decodeLimitMap parses a persisted ip/path rule value. Individual entries
// with unparseable or non-positive limits are dropped; a value that is not a
// JSON object at all is an error so the caller can fall back for the class.
func decodeLimitMap(raw []byte) (map[string]int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode limit map: %w", err)
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		if limit, ok := coerceLimit(v); ok && limit > 0 {
			out[k] = limit
		}
	}
	return out, nil
}

// decodeIPPathRules parses a persisted ip_path rule value and normalizes the
// surviving entries. A value that is not a JSON array is an error.
func decodeIPPathRules(raw []byte) ([]IPPathRule, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode ip_path rules: %w", err)
	}
	out := make([]IPPathRule, 0, len(items))
	for _, item := range items {
		limit, ok := coerceLimit(item["limit"])
		if !ok {
			continue
		}
		r := IPPathRule{
			IP:         strings.TrimSpace(coerceString(item["ip"])),
			PathPrefix: strings.TrimSpace(coerceString(item["path_prefix"])),
			Limit:      limit,
		}
		if r.IP == "" || r.PathPrefix == "" || r.Limit <= 0 {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// coerceLimit accepts JSON numbers (truncating fractions) and integer
// strings; anything else is dropped.
func coerceLimit(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
