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
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeWindows counts increments in memory, mimicking the store's atomic INCR.
type fakeWindows struct {
	counts map[string]int64
	calls  int
	err    error
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{counts: make(map[string]int64)}
}

func (w *fakeWindows) IncrExpire(_ context.Context, keys []string, _ time.Duration) ([]int64, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		w.counts[k]++
		out[i] = w.counts[k]
	}
	return out, nil
}

type fakeConfigStore struct {
	raw       RawRuleConfig
	loadErr   error
	storeErr  error
	loadCalls int
	stored    []RawRuleConfig
	events    [][]byte
}

func (s *fakeConfigStore) Load(context.Context) (RawRuleConfig, error) {
	s.loadCalls++
	if s.loadErr != nil {
		return RawRuleConfig{}, s.loadErr
	}
	return s.raw, nil
}

func (s *fakeConfigStore) Store(_ context.Context, cfg RawRuleConfig, event []byte) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.stored = append(s.stored, cfg)
	s.events = append(s.events, event)
	return nil
}

func newTestLimiter(t *testing.T, defaults RuleSet) (*Limiter, *fakeWindows, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(120, 0)}
	windows := newFakeWindows()
	rules := NewRuleStore(&fakeConfigStore{}, defaults, time.Second, clk)
	return NewLimiter(rules, windows, clk), windows, clk
}

func TestCheckAndIncrement_Exhaustion(t *testing.T) {
	lim, _, _ := newTestLimiter(t, RuleSet{
		IP: map[string]int{"10.0.0.1": 3},
	})

	for i := 1; i <= 3; i++ {
		d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/anything")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should have been allowed", i)
		}
		if want := 3 - i; d.Remaining != want {
			t.Errorf("request %d: expected remaining %d, got %d", i, want, d.Remaining)
		}
	}

	d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("4th request should have been denied")
	}
	if d.Rule == nil || d.Rule.Scope != ScopeIP || d.Rule.Identifier != "10.0.0.1" {
		t.Errorf("unexpected violated rule: %+v", d.Rule)
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0 on deny, got %d", d.Remaining)
	}
}

func TestCheckAndIncrement_WindowRollover(t *testing.T) {
	lim, _, clk := newTestLimiter(t, RuleSet{
		IP: map[string]int{"10.0.0.1": 1},
	})

	if d, _ := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/a"); !d.Allowed {
		t.Fatal("first request should pass")
	}
	if d, _ := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/a"); d.Allowed {
		t.Fatal("second request in the same window should be denied")
	}

	clk.advance(61 * time.Second)
	d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("request after the window boundary should be allowed again")
	}
}

func TestCheckAndIncrement_NoMatchBypassesStore(t *testing.T) {
	lim, windows, _ := newTestLimiter(t, RuleSet{
		IP: map[string]int{"10.0.0.1": 3},
	})

	d, err := lim.CheckAndIncrement(context.Background(), "192.168.0.9", "/free")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("unmatched request should be allowed")
	}
	if d.Rule != nil {
		t.Errorf("expected no matched rule, got %+v", d.Rule)
	}
	if windows.calls != 0 {
		t.Errorf("store should not be touched for unmatched traffic, got %d calls", windows.calls)
	}
}

func TestCheckAndIncrement_DenyReportsFirstViolated(t *testing.T) {
	// Both the IP rule and the path rule are violated on the second request.
	// The IP rule comes first in match order, so it is the one reported.
	lim, _, _ := newTestLimiter(t, RuleSet{
		IP:   map[string]int{"10.0.0.1": 1},
		Path: map[string]int{"/items/": 1},
	})

	lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/items/1")
	d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/items/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected a deny")
	}
	if d.Rule.Scope != ScopeIP {
		t.Errorf("expected the ip rule to be reported, got %q", d.Rule.Scope)
	}
}

func TestCheckAndIncrement_AllowReportsMostSpecific(t *testing.T) {
	lim, _, _ := newTestLimiter(t, RuleSet{
		IP:   map[string]int{"10.0.0.1": 100},
		Path: map[string]int{"/items/": 100},
		IPPath: []IPPathRule{
			{IP: "10.0.0.1", PathPrefix: "/items/", Limit: 10},
		},
	})

	d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/items/42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected an allow")
	}
	if d.Rule.Scope != ScopeIPPath {
		t.Errorf("expected the combined rule to be reported, got %q", d.Rule.Scope)
	}
	if d.Rule.Identifier != "10.0.0.1:/items/" {
		t.Errorf("unexpected identifier %q", d.Rule.Identifier)
	}
	if d.Remaining != 9 {
		t.Errorf("expected remaining 9 against the combined rule, got %d", d.Remaining)
	}
}

func TestCheckAndIncrement_DefaultRules(t *testing.T) {
	defaults := RuleSet{
		IP:   map[string]int{"152.152.152.152": 1000},
		Path: map[string]int{"/categories/": 10000},
		IPPath: []IPPathRule{
			{IP: "152.152.152.152", PathPrefix: "/items/", Limit: 10},
		},
	}
	lim, _, _ := newTestLimiter(t, defaults)

	for i := 1; i <= 10; i++ {
		d, err := lim.CheckAndIncrement(context.Background(), "152.152.152.152", "/items/42")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should have been allowed", i)
		}
	}

	d, _ := lim.CheckAndIncrement(context.Background(), "152.152.152.152", "/items/42")
	if d.Allowed {
		t.Fatal("11th request should have been denied by the combined rule")
	}
	if d.Rule.Scope != ScopeIPPath {
		t.Errorf("expected scope ippath, got %q", d.Rule.Scope)
	}
}

func TestCheckAndIncrement_ResetIn(t *testing.T) {
	lim, _, clk := newTestLimiter(t, RuleSet{
		IP: map[string]int{"10.0.0.1": 5},
	})
	clk.now = time.Unix(125, 0) // 55s left in the 120..180 window

	d, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ResetIn != 55 {
		t.Errorf("expected reset_in 55, got %d", d.ResetIn)
	}
}

func TestCheckAndIncrement_StoreError(t *testing.T) {
	lim, windows, _ := newTestLimiter(t, RuleSet{
		IP: map[string]int{"10.0.0.1": 5},
	})
	windows.err = errors.New("connection refused")

	_, err := lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/a")
	if err == nil {
		t.Fatal("expected the store error to propagate")
	}
}

func TestCheckAndIncrement_SharedPathCounter(t *testing.T) {
	// Path rules aggregate across clients, so two IPs drain one budget.
	lim, _, _ := newTestLimiter(t, RuleSet{
		Path: map[string]int{"/categories/": 2},
	})

	lim.CheckAndIncrement(context.Background(), "10.0.0.1", "/categories/A")
	lim.CheckAndIncrement(context.Background(), "10.0.0.2", "/categories/B")
	d, _ := lim.CheckAndIncrement(context.Background(), "10.0.0.3", "/categories/C")
	if d.Allowed {
		t.Fatal("third request should exceed the shared path budget")
	}
	if d.Rule.Scope != ScopePath || d.Rule.Identifier != "/categories/" {
		t.Errorf("unexpected violated rule: %+v", d.Rule)
	}
}
