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

package redis

import (
	"context"
	"testing"
	"time"
)

func TestParseClusterNodes(t *testing.T) {
	cases := []struct {
		name  string
		nodes string
		want  []string
	}{
		{"empty", "", nil},
		{"single with port", "redis-1:6379", []string{"redis-1:6379"}},
		{"default port applied", "redis-1", []string{"redis-1:6379"}},
		{"mixed and padded", " redis-1:7000 , redis-2 ", []string{"redis-1:7000", "redis-2:6379"}},
		{"malformed entry skipped", "redis-1:notaport,redis-2:7001", []string{"redis-2:7001"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseClusterNodes(tc.nodes)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("node %d: expected %q, got %q", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestSleepBackoff_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepBackoff(ctx, time.Second, 5)
	if err == nil {
		t.Fatal("expected an error from a canceled context")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the sleep promptly")
	}
}
