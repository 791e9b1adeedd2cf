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

package main

import (
	"context"
	"embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/modules/admin"
	"gateway/modules/appconfig"
	"gateway/modules/clock"
	"gateway/modules/db/redis"
	"gateway/modules/db/redis/ruleconfig"
	"gateway/modules/db/redis/window"
	"gateway/modules/middleware"
	ratelimit_mw "gateway/modules/middleware/ratelimit"
	"gateway/modules/proxy"
	"gateway/modules/ratelimit"
	"gateway/modules/server"
	"gateway/modules/telemetry"
)

// OpenAPI specs for request validation at runtime
//
//go:embed modules/oapi/*.yaml
var validationSpecFS embed.FS

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// cancel the context when these signals occur
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	// manual dependency injections, imo there's no need to over-engineer with DI frameworks like Fx or Wire
	slog.SetLogLoggerLevel(slog.LevelDebug)

	clk := clock.RealClock{}

	// --- application config ----
	appConfig, err := appconfig.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// --- infrastructure ---

	otelShutdown, err := telemetry.Init(ctx, appConfig.Otel)
	if err != nil {
		slog.ErrorContext(ctx, "telemetry not properly configured", slog.Any("error", err))
		exitCode = 1
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "telemetry shutdown error", slog.Any("error", err))
		}
	}()

	redisClient, err := redis.New(ctx, appConfig.Redis)
	if err != nil {
		slog.ErrorContext(ctx, "redis not properly setup", slog.Any("error", err))
		exitCode = 1
		return
	}
	defer redisClient.Close()

	// --- rate limiting ---

	ruleStore := ratelimit.NewRuleStore(
		ruleconfig.NewRedisRuleConfig(redisClient),
		appConfig.RateLimit.Defaults(),
		appConfig.RateLimit.CacheTTL,
		clk,
	)
	limiter := ratelimit.NewLimiter(ruleStore, window.NewRedisWindows(redisClient), clk)

	// --- telemetry instruments ---

	httpMetrics, err := telemetry.NewHTTPMetrics("gateway")
	if err != nil {
		slog.WarnContext(ctx, "failed to initialize HTTP metrics, continuing without metrics", slog.Any("error", err))
		httpMetrics = nil
	}
	gatewayMetrics, err := telemetry.NewGatewayMetrics("gateway")
	if err != nil {
		slog.WarnContext(ctx, "failed to initialize gateway metrics, continuing without metrics", slog.Any("error", err))
		gatewayMetrics = nil
	}

	// --- application layer ---

	adminAPI := admin.NewAPI(ruleStore, gatewayMetrics)
	health := admin.Health(admin.PingerFunc(func(ctx context.Context) error {
		return redis.Ping(ctx, redisClient)
	}))
	adminSvc := admin.NewService(
		adminAPI,
		appConfig.Admin,
		health,
		validationSpecFS,
		"modules/oapi/openapi-admin.yaml",
	)

	forwarder := proxy.NewForwarder(appConfig.Upstream)

	srv, err := server.New(
		appConfig.Host, appConfig.Port,
		server.WithWriteTimeout(15*time.Second),
		server.WithServices(adminSvc),
		server.WithFallbackHandler(forwarder),
		server.WithGlobalMiddlewares(
			middleware.Telemetry(httpMetrics),
			middleware.RequestID(),
			ratelimit_mw.New(limiter, gatewayMetrics),
			middleware.Recovery(),
		),
	)
	if err != nil {
		slog.ErrorContext(ctx, "init server error", slog.Any("error", err))
		exitCode = 1
		return
	}

	if err := srv.Run(ctx); err != nil {
		slog.ErrorContext(ctx, "running server error", slog.Any("error", err))
		exitCode = 1
		return
	}
}
