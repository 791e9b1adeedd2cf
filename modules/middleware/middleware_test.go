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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func TestRequestID_AssignsWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	})

	rec := httptest.NewRecorder()
	RequestID()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected an id on the forwarded request")
	}
	if _, err := uuid.FromString(seen); err != nil {
		t.Errorf("id %q is not a UUID: %v", seen, err)
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response id %q does not echo the request id %q", got, seen)
	}
}

func TestRequestID_PreservesInbound(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-chosen")
	rec := httptest.NewRecorder()
	RequestID()(next).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-chosen" {
		t.Errorf("inbound id should be preserved, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recovery()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected a problem response, got %q", ct)
	}
}
