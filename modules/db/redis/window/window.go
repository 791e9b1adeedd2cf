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

package window

import (
	"context"
	"fmt"
	"time"

	"gateway/modules/ratelimit"

	"github.com/redis/rueidis"
)

var _ ratelimit.WindowStore = (*RedisWindows)(nil)

// RedisWindows counts fixed-window hits in Redis. Each key gets an INCR and
// an EXPIRE refresh, pipelined into one round trip for all keys; the pair is
// deliberately not transactional (an increment surviving without its expiry
// refresh self-heals on the next hit).
type RedisWindows struct {
	client rueidis.Client
}

func NewRedisWindows(client rueidis.Client) *RedisWindows {
	return &RedisWindows{client: client}
}

// IncrExpire implements ratelimit.WindowStore.
func (w *RedisWindows) IncrExpire(ctx context.Context, keys []string, ttl time.Duration) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	cmds := make([]rueidis.Completed, 0, len(keys)*2)
	for _, k := range keys {
		cmds = append(cmds,
			w.client.B().Incr().Key(k).Build(),
			w.client.B().Expire().Key(k).Seconds(seconds).Build(),
		)
	}

	resps := w.client.DoMulti(ctx, cmds...)
	counts := make([]int64, len(keys))
	for i, k := range keys {
		n, err := resps[i*2].AsInt64()
		if err != nil {
			return nil, fmt.Errorf("window incr %q: %w", k, err)
		}
		if err := resps[i*2+1].Error(); err != nil {
			return nil, fmt.Errorf("window expire %q: %w", k, err)
		}
		counts[i] = n
	}
	return counts, nil
}
