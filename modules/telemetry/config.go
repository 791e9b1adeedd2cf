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

import "time"

type Config struct {
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"gateway"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment    string `env:"ENVIRONMENT" envDefault:"local"`

	// OTLP collector endpoint, e.g. "otel-collector:4317".
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"otel-collector:4317"`

	// "grpc" or "http".
	Protocol string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"`

	Insecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Disabled leaves the global no-op providers in place.
	Disabled bool `env:"OTEL_SDK_DISABLED"`

	StartupTimeout time.Duration `env:"OTEL_STARTUP_TIMEOUT" envDefault:"5s"`
}
