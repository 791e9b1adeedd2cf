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
	"crypto/subtle"
	"net/http"

	"gateway/modules/middleware/problem"
)

const tokenHeader = "X-Admin-Token"

// RequireToken guards a handler with static token auth. With no keys
// configured the surface is disabled outright and every request gets 403,
// so a deployment cannot accidentally expose an unprotected admin API.
func RequireToken(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				problem.Write(w, problem.Forbidden("Admin API disabled"))
				return
			}
			token := r.Header.Get(tokenHeader)
			if !tokenMatches(token, keys) {
				problem.Write(w, problem.Unauthorized("Invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(token string, keys []string) bool {
	if token == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
