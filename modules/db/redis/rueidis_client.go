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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidishook"
	"github.com/redis/rueidis/rueidisotel"
)

const (
	maxBackoff   = 5 * time.Second
	minBackoff   = 100 * time.Millisecond
	pingTimeout  = 5 * time.Second
	jitterFactor = 0.2
)

// New constructs the process-wide rueidis client and probes readiness with a
// bounded retry loop. Each attempt builds a client and PINGs it; exhausting
// the retries is a fatal startup condition for the caller. Call once during
// startup and inject the client; there is no lazy global here.
func New(ctx context.Context, cfg Config) (rueidis.Client, error) {
	opt := rueidis.ClientOption{
		ClientName: cfg.ClientName,
		Password:   cfg.Password,
	}
	if nodes := ParseClusterNodes(cfg.ClusterNodes); len(nodes) > 0 {
		opt.InitAddress = nodes
	} else {
		opt.InitAddress = []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
		opt.SelectDB = cfg.DB
	}

	backoff := cfg.InitBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > cfg.InitRetries {
			return nil, fmt.Errorf("redis not ready after %d attempts: %w", attempt, lastErr)
		}
		if attempt > 0 {
			if err := sleepBackoff(ctx, backoff, attempt); err != nil {
				return nil, err
			}
		}

		cli, err := connect(ctx, opt, cfg.EnableOtel)
		if err != nil {
			lastErr = err
			slog.Warn("redis not ready",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			continue
		}

		if cfg.SlowLogThreshold > 0 {
			cli = rueidishook.WithHook(cli, &slowLogHook{threshold: cfg.SlowLogThreshold})
		}
		slog.Info("redis: connected",
			slog.String("mode", string(cli.Mode())),
			slog.String("client_name", cfg.ClientName),
		)
		return cli, nil
	}
}

// connect builds a client and verifies it answers PING; on failure the
// half-built client is closed so the next attempt starts clean.
func connect(ctx context.Context, opt rueidis.ClientOption, enableOtel bool) (rueidis.Client, error) {
	var (
		cli rueidis.Client
		err error
	)
	if enableOtel {
		cli, err = rueidisotel.NewClient(opt)
	} else {
		cli, err = rueidis.NewClient(opt)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := cli.Do(pingCtx, cli.B().Ping().Build()).Error(); err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}

// Ping runs a bounded PING against the client, for health checks.
func Ping(ctx context.Context, cli rueidis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return cli.Do(pingCtx, cli.B().Ping().Build()).Error()
}

// sleepBackoff waits base doubled per attempt, capped at 5s, with 20% jitter
// and a 100ms floor, honoring context cancellation.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	sleep := base
	for i := 1; i < attempt && sleep < maxBackoff; i++ {
		sleep *= 2
	}
	if sleep > maxBackoff {
		sleep = maxBackoff
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFactor * float64(sleep))
	sleep += jitter
	if sleep < minBackoff {
		sleep = minBackoff
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseClusterNodes splits a comma-separated host:port list, defaulting the
// port to 6379 for bare hosts. Empty and malformed parts are skipped.
func ParseClusterNodes(nodes string) []string {
	var out []string
	for _, part := range strings.Split(nodes, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if host, port, err := net.SplitHostPort(part); err == nil {
			if _, err := strconv.Atoi(port); err != nil {
				continue
			}
			out = append(out, net.JoinHostPort(host, port))
			continue
		}
		out = append(out, net.JoinHostPort(part, "6379"))
	}
	return out
}
