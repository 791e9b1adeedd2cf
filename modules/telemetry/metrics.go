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

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics holds counters and histograms for HTTP server instrumentation.
type HTTPMetrics struct {
	requestCounter metric.Int64Counter
	durationHisto  metric.Float64Histogram
}

func NewHTTPMetrics(serviceName string) (*HTTPMetrics, error) {
	meter := otel.Meter(serviceName)

	requestCounter, err := meter.Int64Counter(
		"http_server_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	durationHisto, err := meter.Float64Histogram(
		"http_server_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestCounter: requestCounter,
		durationHisto:  durationHisto,
	}, nil
}

// RecordRequest records one completed HTTP request.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, method, statusCode string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http_method", method),
		attribute.String("http_status_code", statusCode),
	)
	m.requestCounter.Add(ctx, 1, attrs)
	m.durationHisto.Record(ctx, durationMs, attrs)
}

// GatewayMetrics counts rate-limit decisions and rule config updates, by
// scope where applicable.
type GatewayMetrics struct {
	allowed       metric.Int64Counter
	blocked       metric.Int64Counter
	configUpdates metric.Int64Counter
}

func NewGatewayMetrics(serviceName string) (*GatewayMetrics, error) {
	meter := otel.Meter(serviceName)

	allowed, err := meter.Int64Counter(
		"gateway_rate_limit_allowed_total",
		metric.WithDescription("Allowed requests after rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	blocked, err := meter.Int64Counter(
		"gateway_rate_limit_blocked_total",
		metric.WithDescription("Blocked requests by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	configUpdates, err := meter.Int64Counter(
		"gateway_rate_limit_config_updates_total",
		metric.WithDescription("Number of times rate-limit configuration was updated"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		allowed:       allowed,
		blocked:       blocked,
		configUpdates: configUpdates,
	}, nil
}

func (m *GatewayMetrics) Allowed(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.allowed.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *GatewayMetrics) Blocked(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *GatewayMetrics) ConfigUpdated(ctx context.Context) {
	if m == nil {
		return
	}
	m.configUpdates.Add(ctx, 1)
}
