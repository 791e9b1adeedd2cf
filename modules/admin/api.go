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

package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"gateway/modules/middleware/problem"
	"gateway/modules/ratelimit"
	"gateway/modules/telemetry"
)

// API serves the rule management endpoints. Every mutation goes through the
// rule store so it is persisted, broadcast to peer instances, and reflected
// in the local cache in one step.
type API struct {
	rules   *ratelimit.RuleStore
	metrics *telemetry.GatewayMetrics
}

func NewAPI(rules *ratelimit.RuleStore, metrics *telemetry.GatewayMetrics) *API {
	return &API{rules: rules, metrics: metrics}
}

// rulesPayload is the decode target for PUT and PATCH bodies. Pointer fields
// distinguish an absent class from an explicitly empty one.
type rulesPayload struct {
	IP     *map[string]int         `json:"ip"`
	Path   *map[string]int         `json:"path"`
	IPPath *[]ratelimit.IPPathRule `json:"ip_path"`
}

func decodePayload(r *http.Request) (rulesPayload, error) {
	var p rulesPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&p)
	return p, err
}

func (a *API) GetRules(w http.ResponseWriter, r *http.Request) {
	rs, err := a.rules.Rules(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "load rate limit rules", slog.Any("error", err))
		problem.Write(w, problem.Internal("rule store unavailable"))
		return
	}
	writeRuleSet(w, rs)
}

// PutRules replaces all three rule classes at once.
func (a *API) PutRules(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(r)
	if err != nil {
		problem.Write(w, problem.BadRequest("malformed rule payload"))
		return
	}
	if p.IP == nil || p.Path == nil || p.IPPath == nil {
		problem.Write(w, problem.BadRequest("'ip', 'path' and 'ip_path' are all required"))
		return
	}
	a.apply(w, r, *p.IP, *p.Path, *p.IPPath)
}

// PatchRules updates only the classes present in the body, keeping the
// current values for the rest.
func (a *API) PatchRules(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(r)
	if err != nil {
		problem.Write(w, problem.BadRequest("malformed rule payload"))
		return
	}
	if p.IP == nil && p.Path == nil && p.IPPath == nil {
		problem.Write(w, problem.BadRequest("At least one of 'ip', 'path' or 'ip_path' must be provided."))
		return
	}

	current, err := a.rules.Rules(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "load rate limit rules", slog.Any("error", err))
		problem.Write(w, problem.Internal("rule store unavailable"))
		return
	}

	ip, path, ipPath := current.IP, current.Path, current.IPPath
	if p.IP != nil {
		ip = *p.IP
	}
	if p.Path != nil {
		path = *p.Path
	}
	if p.IPPath != nil {
		ipPath = *p.IPPath
	}
	a.apply(w, r, ip, path, ipPath)
}

// ResetRules restores the built-in defaults.
func (a *API) ResetRules(w http.ResponseWriter, r *http.Request) {
	d := a.rules.Defaults()
	a.apply(w, r, d.IP, d.Path, d.IPPath)
}

func (a *API) apply(w http.ResponseWriter, r *http.Request, ip, path map[string]int, ipPath []ratelimit.IPPathRule) {
	rs, err := a.rules.SetRules(r.Context(), ip, path, ipPath)
	if err != nil {
		slog.ErrorContext(r.Context(), "store rate limit rules", slog.Any("error", err))
		problem.Write(w, problem.Internal("rule store unavailable"))
		return
	}
	a.metrics.ConfigUpdated(r.Context())
	writeRuleSet(w, rs)
}

func writeRuleSet(w http.ResponseWriter, rs ratelimit.RuleSet) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rs); err != nil {
		slog.Debug("write rule set", slog.Any("error", err))
	}
}
