// Copyright 2025 The gateway authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidishook"
)

var _ rueidishook.Hook = (*slowLogHook)(nil)

// slowLogHook logs commands that take longer than the configured threshold.
type slowLogHook struct {
	threshold time.Duration
}

func (h *slowLogHook) observe(ctx context.Context, start time.Time, op string, n int) {
	elapsed := time.Since(start)
	if elapsed < h.threshold {
		return
	}
	slog.WarnContext(ctx, "slow redis command",
		slog.String("op", op),
		slog.Int("commands", n),
		slog.Duration("elapsed", elapsed),
	)
}

func (h *slowLogHook) Do(client rueidis.Client, ctx context.Context, cmd rueidis.Completed) (resp rueidis.RedisResult) {
	start := time.Now()
	resp = client.Do(ctx, cmd)
	h.observe(ctx, start, "do", 1)
	return resp
}

func (h *slowLogHook) DoMulti(client rueidis.Client, ctx context.Context, multi ...rueidis.Completed) (resps []rueidis.RedisResult) {
	start := time.Now()
	resps = client.DoMulti(ctx, multi...)
	h.observe(ctx, start, "domulti", len(multi))
	return resps
}

func (h *slowLogHook) DoCache(client rueidis.Client, ctx context.Context, cmd rueidis.Cacheable, ttl time.Duration) (resp rueidis.RedisResult) {
	start := time.Now()
	resp = client.DoCache(ctx, cmd, ttl)
	h.observe(ctx, start, "docache", 1)
	return resp
}

func (h *slowLogHook) DoMultiCache(client rueidis.Client, ctx context.Context, multi ...rueidis.CacheableTTL) (resps []rueidis.RedisResult) {
	start := time.Now()
	resps = client.DoMultiCache(ctx, multi...)
	h.observe(ctx, start, "domulticache", len(multi))
	return resps
}

func (h *slowLogHook) Receive(client rueidis.Client, ctx context.Context, subscribe rueidis.Completed, fn func(msg rueidis.PubSubMessage)) (err error) {
	start := time.Now()
	err = client.Receive(ctx, subscribe, fn)
	h.observe(ctx, start, "receive", 1)
	return err
}

func (h *slowLogHook) DoStream(client rueidis.Client, ctx context.Context, cmd rueidis.Completed) rueidis.RedisResultStream {
	start := time.Now()
	s := client.DoStream(ctx, cmd)
	h.observe(ctx, start, "dostream", 1)
	return s
}

func (h *slowLogHook) DoMultiStream(client rueidis.Client, ctx context.Context, multi ...rueidis.Completed) rueidis.MultiRedisResultStream {
	start := time.Now()
	s := client.DoMultiStream(ctx, multi...)
	h.observe(ctx, start, "domultistream", len(multi))
	return s
}
