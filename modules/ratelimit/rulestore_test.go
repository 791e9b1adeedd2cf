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
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestRuleStore_TTLCaching(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{}
	rs := NewRuleStore(store, RuleSet{}, 2*time.Second, clk)

	rs.Rules(context.Background())
	rs.Rules(context.Background())
	if store.loadCalls != 1 {
		t.Fatalf("expected 1 load within the TTL, got %d", store.loadCalls)
	}

	clk.advance(3 * time.Second)
	rs.Rules(context.Background())
	if store.loadCalls != 2 {
		t.Fatalf("expected a refresh after the TTL, got %d loads", store.loadCalls)
	}
}

func TestRuleStore_TTLFloor(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{}
	rs := NewRuleStore(store, RuleSet{}, 0, clk)

	rs.Rules(context.Background())
	clk.advance(500 * time.Millisecond)
	rs.Rules(context.Background())
	if store.loadCalls != 1 {
		t.Fatalf("a zero TTL should be floored to 1s, got %d loads", store.loadCalls)
	}
}

func TestRuleStore_LoadsPersistedRules(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{raw: RawRuleConfig{
		IP:        []byte(`{"1.2.3.4": 50}`),
		Path:      []byte(`{"/items/": 7}`),
		IPPath:    []byte(`[{"ip": "1.2.3.4", "path_prefix": "/items/", "limit": 2}]`),
		UpdatedAt: []byte("1234.5"),
	}}
	rs := NewRuleStore(store, RuleSet{IP: map[string]int{"9.9.9.9": 1}}, time.Second, clk)

	got, err := rs.Rules(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IP["1.2.3.4"] != 50 {
		t.Errorf("persisted ip rules not applied: %v", got.IP)
	}
	if _, ok := got.IP["9.9.9.9"]; ok {
		t.Error("persisted rules should replace the defaults wholesale")
	}
	if got.Path["/items/"] != 7 {
		t.Errorf("persisted path rules not applied: %v", got.Path)
	}
	if len(got.IPPath) != 1 || got.IPPath[0].Limit != 2 {
		t.Errorf("persisted ip_path rules not applied: %v", got.IPPath)
	}
	if got.UpdatedAt == nil || *got.UpdatedAt != 1234.5 {
		t.Errorf("updated_at not applied: %v", got.UpdatedAt)
	}
}

func TestRuleStore_MalformedClassKeepsPrevious(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{raw: RawRuleConfig{
		IP:   []byte(`{"1.2.3.4": 50}`),
		Path: []byte(`{"/items/": 7}`),
	}}
	rs := NewRuleStore(store, RuleSet{}, time.Second, clk)

	if _, err := rs.Rules(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One class goes bad in the store; the others keep updating.
	store.raw = RawRuleConfig{
		IP:   []byte(`[not json`),
		Path: []byte(`{"/items/": 9}`),
	}
	clk.advance(2 * time.Second)

	got, err := rs.Rules(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IP["1.2.3.4"] != 50 {
		t.Errorf("malformed ip class should keep the previous value, got %v", got.IP)
	}
	if got.Path["/items/"] != 9 {
		t.Errorf("healthy path class should refresh, got %v", got.Path)
	}
}

func TestRuleStore_LoadErrorPropagates(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{loadErr: errors.New("connection refused")}
	rs := NewRuleStore(store, RuleSet{}, time.Second, clk)

	if _, err := rs.Rules(context.Background()); err == nil {
		t.Fatal("expected the load error to propagate")
	}
}

func TestRuleStore_SetRules(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := &fakeConfigStore{}
	rs := NewRuleStore(store, RuleSet{}, time.Second, clk)

	got, err := rs.SetRules(context.Background(),
		map[string]int{"1.2.3.4": 10, "bad": 0},
		map[string]int{"/items/": 5},
		[]IPPathRule{{IP: " 1.2.3.4 ", PathPrefix: "/items/", Limit: 2}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := got.IP["bad"]; ok {
		t.Error("non-positive limits should be dropped on write")
	}
	if got.IPPath[0].IP != "1.2.3.4" {
		t.Error("ip_path entries should be trimmed on write")
	}
	if got.UpdatedAt == nil {
		t.Fatal("expected an updated_at timestamp")
	}

	if len(store.stored) != 1 {
		t.Fatalf("expected one persisted config, got %d", len(store.stored))
	}
	persisted := store.stored[0]
	if ts, err := strconv.ParseFloat(string(persisted.UpdatedAt), 64); err != nil || ts != *got.UpdatedAt {
		t.Errorf("persisted updated_at %q does not match %v", persisted.UpdatedAt, *got.UpdatedAt)
	}

	if len(store.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(store.events))
	}
	var event struct {
		Ts     float64        `json:"ts"`
		IP     map[string]int `json:"ip"`
		Path   map[string]int `json:"path"`
		IPPath []IPPathRule   `json:"ip_path"`
	}
	if err := json.Unmarshal(store.events[0], &event); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if event.Ts != *got.UpdatedAt {
		t.Errorf("event ts %v does not match %v", event.Ts, *got.UpdatedAt)
	}
	if event.IP["1.2.3.4"] != 10 || event.Path["/items/"] != 5 || len(event.IPPath) != 1 {
		t.Errorf("event payload mangled: %+v", event)
	}

	// The write lands in the local cache without waiting for a TTL refresh.
	cached, err := rs.Rules(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached.IP["1.2.3.4"] != 10 {
		t.Errorf("cache not updated after SetRules: %v", cached.IP)
	}
	if store.loadCalls != 0 {
		t.Errorf("expected no store load after a fresh write, got %d", store.loadCalls)
	}
}

func TestRuleStore_SetRulesStoreError(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	store := &fakeConfigStore{storeErr: errors.New("readonly replica")}
	rs := NewRuleStore(store, RuleSet{IP: map[string]int{"a": 1}}, time.Second, clk)

	if _, err := rs.SetRules(context.Background(), nil, nil, nil); err == nil {
		t.Fatal("expected the store error to propagate")
	}

	// The failed write must not touch the cached rules.
	got, _ := rs.Rules(context.Background())
	if got.IP["a"] != 1 {
		t.Errorf("cache changed after a failed write: %v", got.IP)
	}
}

func TestRuleStore_Defaults(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	rs := NewRuleStore(&fakeConfigStore{}, RuleSet{
		IP: map[string]int{"a": 1, "zero": 0},
	}, time.Second, clk)

	d := rs.Defaults()
	if _, ok := d.IP["zero"]; ok {
		t.Error("defaults should be normalized")
	}
	d.IP["a"] = 99
	if rs.Defaults().IP["a"] != 1 {
		t.Error("Defaults must return an isolated copy")
	}
}
