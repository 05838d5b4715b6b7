package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexkv/facebook-clone/internal/api/middleware"
	"github.com/apexkv/facebook-clone/internal/models"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// ListMessages returns the room's history, newest first, with each
// message's direction resolved for the caller. Older pages are fetched
// with ?before=<message id>.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxMessageLimit {
			n = maxMessageLimit
		}
		limit = n
	}
	before := r.URL.Query().Get("before")

	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		h.domainError(w, err)
		return
	}

	msgs, err := h.ledger.List(r.Context(), room, user.ID, limit, before)
	if err != nil {
		h.domainError(w, err)
		return
	}

	friend := models.User{}
	if friendID, ok := room.OtherMember(user.ID); ok {
		if u, err := h.store.GetUser(r.Context(), friendID); err == nil && u != nil {
			friend = *u
		} else {
			friend.ID = friendID
		}
	}

	views := make([]models.MessageView, 0, len(msgs))
	for i := range msgs {
		sender := friend
		if msgs[i].SenderID == user.ID {
			sender = *user
		}
		views = append(views, models.ViewMessage(&msgs[i], sender, user.ID))
	}

	h.JSON(w, http.StatusOK, views)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage stores a message over HTTP and fans it out to the room's
// live sessions, exactly as if it had arrived on a socket. The path
// segment accepts a room id or, on first contact, the peer's user id.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, _, err := h.gateway.PublishMessage(r.Context(), user, chi.URLParam(r, "roomID"), req.Content)
	if err != nil {
		h.domainError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, models.ViewMessage(msg, *user, user.ID))
}

// MarkRead marks every message the caller received in the room as
// read. Idempotent; the counterpart is notified only when something
// actually changed.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	count, err := h.gateway.PublishRead(r.Context(), user, roomID)
	if err != nil {
		h.domainError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]int64{"updated": count})
}
