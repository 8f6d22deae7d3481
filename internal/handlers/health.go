package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Store modes reported by the health endpoint.
const (
	StoreExternal = "external"
	StoreEmbedded = "embedded"
)

// Check is the outcome of one dependency check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse reports whether rooms can be served and relayed.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Store     string           `json:"store"`
	LiveRooms int              `json:"liveRooms"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health pings the room store and the realtime fan-out. An embedded store
// is flagged since rooms held there do not survive a restart.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Store:     h.opts.StoreMode,
		Checks:    make(map[string]Check, 2),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	start := time.Now()
	storeCheck := Check{Status: "fail", Message: "connection failed"}
	if err := h.redis.Ping(ctx); err == nil {
		storeCheck = Check{Status: "pass", Latency: time.Since(start).String()}
		if h.opts.StoreMode == StoreEmbedded {
			storeCheck.Message = "in-memory, rooms are lost on restart"
		}
	}
	resp.Checks["store"] = storeCheck

	fanout := Check{Status: "pass"}
	if n, err := h.broker.LiveRooms(ctx); err != nil {
		fanout = Check{Status: "fail", Message: "pub/sub unavailable"}
	} else {
		resp.LiveRooms = n
	}
	resp.Checks["fanout"] = fanout

	statusCode := http.StatusOK
	for _, c := range resp.Checks {
		if c.Status != "pass" {
			resp.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	h.JSON(w, statusCode, resp)
}

// Root names the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{
		"name":    "realtimechat",
		"version": version,
	})
}
