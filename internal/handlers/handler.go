// Package handlers implements the REST query surface next to the
// WebSocket gateway.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apexkv/facebook-clone/internal/broker"
	"github.com/apexkv/facebook-clone/internal/chat"
	"github.com/apexkv/facebook-clone/internal/gateway"
	"github.com/apexkv/facebook-clone/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store   store.DataStore
	redis   *store.RedisStore
	broker  *broker.Consumer
	rooms   *chat.Rooms
	ledger  *chat.Ledger
	gateway *gateway.Gateway
}

// NewHandler creates a new Handler with the given dependencies. redis
// and nats may be nil when those backends are not configured.
func NewHandler(ds store.DataStore, redis *store.RedisStore, nats *broker.Consumer, rooms *chat.Rooms, ledger *chat.Ledger, gw *gateway.Gateway) *Handler {
	return &Handler{store: ds, redis: redis, broker: nats, rooms: rooms, ledger: ledger, gateway: gw}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// domainError maps chat package sentinels onto HTTP responses.
func (h *Handler) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		h.Error(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrForbidden):
		h.Error(w, http.StatusForbidden, "forbidden")
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
