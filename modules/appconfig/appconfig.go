package appconfig

import (
	"encoding/json"
	"log/slog"
	"time"

	"gateway/modules/admin"
	"gateway/modules/db/redis"
	"gateway/modules/proxy"
	"gateway/modules/ratelimit"
	"gateway/modules/telemetry"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"dev"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	// --- core infra ----
	Redis    redis.Config `envPrefix:"REDIS_"`
	Upstream proxy.Config `envPrefix:"UPSTREAM_"`

	// --- rate limiting ----
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// --- admin surface ----
	Admin admin.Config `envPrefix:"ADMIN_"`

	// --- otel ----
	// since it has special naming conventions, we do not use prefix here
	Otel telemetry.Config
}

// RateLimitConfig holds the seed rules and cache behavior. The JSON envs
// override the built-in defaults; a value that fails to parse is ignored
// with a warning so a typo cannot take the gateway down at boot.
type RateLimitConfig struct {
	RulesIPJSON     string        `env:"RULES_IP_JSON"`
	RulesPathJSON   string        `env:"RULES_PATH_JSON"`
	RulesIPPathJSON string        `env:"RULES_IP_PATH_JSON"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"1s"`
}

// Defaults materializes the seed rule set applied when no persisted rules
// exist yet, and restored by the admin reset endpoint.
func (c RateLimitConfig) Defaults() ratelimit.RuleSet {
	rs := ratelimit.RuleSet{
		IP:   map[string]int{"152.152.152.152": 1000},
		Path: map[string]int{"/categories/": 10000},
		IPPath: []ratelimit.IPPathRule{
			{IP: "152.152.152.152", PathPrefix: "/items/", Limit: 10},
		},
	}

	if c.RulesIPJSON != "" {
		var m map[string]int
		if err := json.Unmarshal([]byte(c.RulesIPJSON), &m); err != nil {
			slog.Warn("ignoring RATE_LIMIT_RULES_IP_JSON", slog.Any("error", err))
		} else {
			rs.IP = m
		}
	}
	if c.RulesPathJSON != "" {
		var m map[string]int
		if err := json.Unmarshal([]byte(c.RulesPathJSON), &m); err != nil {
			slog.Warn("ignoring RATE_LIMIT_RULES_PATH_JSON", slog.Any("error", err))
		} else {
			rs.Path = m
		}
	}
	if c.RulesIPPathJSON != "" {
		var rules []ratelimit.IPPathRule
		if err := json.Unmarshal([]byte(c.RulesIPPathJSON), &rules); err != nil {
			slog.Warn("ignoring RATE_LIMIT_RULES_IP_PATH_JSON", slog.Any("error", err))
		} else if cleaned := ratelimit.NormalizeIPPathRules(rules); len(cleaned) > 0 {
			rs.IPPath = cleaned
		}
	}

	return rs
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
