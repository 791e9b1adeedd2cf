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
	"log/slog"
	"net/http"
	"strconv"

	"gateway/modules/middleware/problem"
	"gateway/modules/proxy"
	rl "gateway/modules/ratelimit"
	"gateway/modules/telemetry"
)

// Limiter decides whether a request identified by client IP and path may
// proceed, consuming quota from every matching rule.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, ip, path string) (rl.Decision, error)
}

// deniedBody is the wire shape of a 429 response.
type deniedBody struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details deniedDetails `json:"details"`
}

type deniedDetails struct {
	Scope      string `json:"scope"`
	Identifier string `json:"identifier"`
	ResetIn    int    `json:"reset_in"`
}

// New builds the enforcement middleware. Every request passes through it,
// including admin and health routes, mirroring the single-gate design.
func New(limiter Limiter, metrics *telemetry.GatewayMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxy.EffectiveClientIP(r)

			decision, err := limiter.CheckAndIncrement(r.Context(), ip, r.URL.Path)
			if err != nil {
				slog.Error("rate limit check failed",
					slog.String("middleware", "rate_limiter"),
					slog.String("url", r.URL.Path),
					slog.Any("error", err),
				)
				// Counter store may be down. Never fail open.
				problem.Write(w, problem.ServiceUnavailable("rate limiter unavailable"))
				return
			}

			if !decision.Allowed {
				metrics.Blocked(r.Context(), string(decision.Rule.Scope))
				slog.Debug("rate limited",
					slog.String("middleware", "rate_limiter"),
					slog.String("url", r.URL.Path),
					slog.String("scope", string(decision.Rule.Scope)),
					slog.String("identifier", decision.Rule.Identifier),
				)
				writeDenied(w, decision)
				return
			}

			metrics.Allowed(r.Context(), scopeOf(decision))

			if decision.Rule != nil {
				// Handlers downstream may set headers of their own, so
				// the quota headers are applied lazily just before the
				// response is committed.
				w = &quotaHeaderWriter{ResponseWriter: w, decision: decision}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scopeOf(d rl.Decision) string {
	if d.Rule == nil {
		return "none"
	}
	return string(d.Rule.Scope)
}

func writeDenied(w http.ResponseWriter, d rl.Decision) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", strconv.Itoa(d.ResetIn))
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Rule.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)

	body := deniedBody{
		Error:   "RATE_LIMIT_EXCEEDED",
		Message: "Too many requests",
		Details: deniedDetails{
			Scope:      string(d.Rule.Scope),
			Identifier: d.Rule.Identifier,
			ResetIn:    d.ResetIn,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write 429 body", slog.Any("error", err))
	}
}

func writeQuotaHeaders(w http.ResponseWriter, d rl.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Rule.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(d.ResetIn))
}

// quotaHeaderWriter re-applies quota headers just before the response is
// committed so the upstream's own headers cannot clobber them.
type quotaHeaderWriter struct {
	http.ResponseWriter
	decision rl.Decision
	ensured  bool
}

func (w *quotaHeaderWriter) ensure() {
	if w.ensured {
		return
	}
	writeQuotaHeaders(w.ResponseWriter, w.decision)
	w.ensured = true
}

func (w *quotaHeaderWriter) WriteHeader(statusCode int) {
	w.ensure()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *quotaHeaderWriter) Write(p []byte) (int, error) {
	w.ensure()
	return w.ResponseWriter.Write(p)
}

func (w *quotaHeaderWriter) Flush() {
	w.ensure()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
