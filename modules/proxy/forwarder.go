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

package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gateway/modules/middleware/problem"
)

// Config tunes the single pooled upstream client.
type Config struct {
	BaseURL         string        `env:"BASE_URL" envDefault:"https://api.mercadolibre.com"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"2s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"2000"`
	IdleConnTimeout time.Duration `env:"IDLE_CONN_TIMEOUT" envDefault:"30s"`
}

// hopByHopHeaders are meaningful only to the immediate connection and are
// stripped from the outbound request and the relayed response.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// Forwarder relays every request to the single configured upstream: filtered
// headers, composed X-Forwarded-* set, untouched query and body, and the
// upstream response passed through verbatim. Redirects are never followed and
// upstream failures are never retried here.
type Forwarder struct {
	cfg  Config
	base string

	mu     sync.Mutex
	client *http.Client
}

func NewForwarder(cfg Config) *Forwarder {
	return &Forwarder{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// SetClient swaps the upstream client, for test isolation. In-flight
// requests keep the client they started with.
func (f *Forwarder) SetClient(c *http.Client) {
	f.mu.Lock()
	f.client = c
	f.mu.Unlock()
}

// httpClient lazily builds the pooled keep-alive client on first use. The
// mutex guards construction only, never a request.
func (f *Forwarder) httpClient() *http.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		f.client = &http.Client{
			Timeout: f.cfg.RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: f.cfg.ConnectTimeout,
				}).DialContext,
				MaxIdleConns:        f.cfg.MaxIdleConns,
				MaxIdleConnsPerHost: f.cfg.MaxIdleConns,
				IdleConnTimeout:     f.cfg.IdleConnTimeout,
			},
		}
	}
	return f.client
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	url := f.base + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		slog.ErrorContext(r.Context(), "proxy request build failed",
			slog.String("url", url),
			slog.Any("error", err),
		)
		problem.Write(w, problem.BadGateway("upstream request failed"))
		return
	}

	out.Header = filterHeaders(r.Header)
	composeForwardedFor(out.Header, r.Header.Get("X-Forwarded-For"), EffectiveClientIP(r))
	if r.Host != "" && out.Header.Get("X-Forwarded-Host") == "" {
		out.Header.Set("X-Forwarded-Host", r.Host)
	}
	if out.Header.Get("X-Forwarded-Proto") == "" {
		out.Header.Set("X-Forwarded-Proto", requestScheme(r))
	}

	resp, err := f.httpClient().Do(out)
	if err != nil {
		slog.ErrorContext(r.Context(), "upstream request failed",
			slog.String("method", r.Method),
			slog.String("url", url),
			slog.Any("error", err),
		)
		problem.Write(w, problem.BadGateway("upstream request failed"))
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	for k, vv := range filterHeaders(resp.Header) {
		h[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("relay interrupted", slog.Any("error", err))
	}
}

// filterHeaders drops hop-by-hop headers and Host, case-insensitively.
func filterHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, vv := range in {
		lk := strings.ToLower(k)
		if _, hop := hopByHopHeaders[lk]; hop || lk == "host" {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = vv
	}
	return out
}

// composeForwardedFor appends the effective client IP to the inbound chain
// unless it already ends with it, then replaces the header with the
// comma-space joined chain. With no effective client IP the header is left
// as it came in.
func composeForwardedFor(out http.Header, inbound, clientIP string) {
	if clientIP == "" {
		return
	}
	var chain []string
	for _, part := range strings.Split(inbound, ",") {
		if part = strings.TrimSpace(part); part != "" {
			chain = append(chain, part)
		}
	}
	if len(chain) == 0 || chain[len(chain)-1] != clientIP {
		chain = append(chain, clientIP)
	}
	out.Set("X-Forwarded-For", strings.Join(chain, ", "))
}

// EffectiveClientIP is the first element of the X-Forwarded-For chain, or
// the transport peer address when the header is absent or blank.
func EffectiveClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
