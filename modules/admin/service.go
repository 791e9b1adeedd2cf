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
	"io/fs"
	"net/http"

	"gateway/modules/middleware"
	"gateway/modules/server"
)

var _ server.RegistrableService = (*Service)(nil)

// Service mounts the admin and health routes. Validation and token auth are
// applied per route rather than globally so the proxy catch-all stays
// untouched by the OpenAPI router.
type Service struct {
	api      *API
	cfg      Config
	health   http.Handler
	specFS   fs.FS
	specPath string
}

func NewService(api *API, cfg Config, health http.Handler, specFS fs.FS, specPath string) *Service {
	return &Service{api: api, cfg: cfg, health: health, specFS: specFS, specPath: specPath}
}

func (s *Service) Register(mux *http.ServeMux) {
	auth := RequireToken(s.cfg.APIKeys)
	validate := middleware.OpenAPIValidation(s.specFS, s.specPath)
	guard := func(h http.HandlerFunc) http.Handler {
		// Auth first so an unauthenticated caller never sees validation
		// detail, then schema validation, then the handler.
		return auth(validate(h))
	}

	mux.Handle("GET /health", s.health)
	mux.Handle("GET /admin/rate-limits", guard(s.api.GetRules))
	mux.Handle("PUT /admin/rate-limits", guard(s.api.PutRules))
	mux.Handle("PATCH /admin/rate-limits", guard(s.api.PatchRules))
	mux.Handle("POST /admin/rate-limits/reset", guard(s.api.ResetRules))
}

func (s *Service) Middlewares() []func(http.Handler) http.Handler {
	return nil
}
