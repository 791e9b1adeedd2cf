package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthBody struct {
	Status string      `json:"status"`
	Redis  redisHealth `json:"redis"`
}

type redisHealth struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

// Health reports process liveness plus the reachability of the counter
// store. It always answers 200; the body carries the degraded state.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{
			Status: "healthy",
			Redis:  redisHealth{Status: "healthy", Details: "connected"},
		}
		if err := store.Ping(r.Context()); err != nil {
			body.Status = "unhealthy"
			body.Redis = redisHealth{Status: "unhealthy", Details: err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Debug("write health body", slog.Any("error", err))
		}
	}
}
