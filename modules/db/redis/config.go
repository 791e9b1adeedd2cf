package redis

import "time"

// Config describes the shared-store connection. When ClusterNodes is set the
// client runs in cluster mode; otherwise it connects to the single
// host:port with the selected DB.
type Config struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`

	// Comma-separated host:port list; port defaults to 6379 per node.
	ClusterNodes string `env:"CLUSTER_NODES"`

	// Optional: client name visible in CLIENT LIST, etc.
	ClientName string `env:"CLIENT_NAME"`

	// Readiness probing at startup: retry count and base backoff. Backoff
	// doubles each attempt capped at 5s, with ±20% jitter and a 100ms floor.
	InitRetries int           `env:"INIT_RETRIES" envDefault:"5"`
	InitBackoff time.Duration `env:"INIT_BACKOFF" envDefault:"200ms"`

	// Enable OpenTelemetry instrumentation via rueidisotel.
	EnableOtel bool `env:"ENABLE_OTEL"`

	// When > 0, commands slower than this are logged through a rueidishook
	// wrapper.
	SlowLogThreshold time.Duration `env:"SLOW_LOG_THRESHOLD"`
}
