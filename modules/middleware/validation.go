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

package middleware

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"

	"gateway/modules/middleware/problem"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	nethttpmiddleware "github.com/oapi-codegen/nethttp-middleware"
)

// OpenAPIValidation validates requests against the embedded OpenAPI document
// before they reach the handler. Validation failures become a 400 problem;
// a document that fails to load disables the wrapped surface with a 500.
func OpenAPIValidation(specFS fs.FS, specPath string) func(http.Handler) http.Handler {
	doc, err := loadSpec(specFS, specPath)
	if err != nil {
		slog.Error("openapi document load failed",
			slog.String("path", specPath),
			slog.Any("error", err),
		)
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				problem.Write(w, problem.Internal("api validation unavailable"))
			})
		}
	}

	opts := &nethttpmiddleware.Options{
		// Token auth is enforced by a dedicated middleware, not here.
		Options: openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		DoNotValidateServers:  true,
		SilenceServersWarning: true,
		ErrorHandlerWithOpts: func(_ context.Context, err error, w http.ResponseWriter, r *http.Request, eopts nethttpmiddleware.ErrorHandlerOpts) {
			status := eopts.StatusCode
			if status == 0 {
				status = http.StatusBadRequest
			}
			slog.Debug("request validation failed",
				slog.String("url", r.URL.Path),
				slog.Any("error", err),
			)
			problem.Write(w, problem.New(status, "request validation failed"))
		},
	}
	return nethttpmiddleware.OapiRequestValidatorWithOptions(doc, opts)
}

func loadSpec(fsys fs.FS, specPath string) (*openapi3.T, error) {
	data, err := fs.ReadFile(fsys, specPath)
	if err != nil {
		return nil, err
	}
	loader := openapi3.NewLoader()
	return loader.LoadFromData(data)
}
