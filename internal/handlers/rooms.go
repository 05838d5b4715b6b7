package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexkv/facebook-clone/internal/api/middleware"
	"github.com/apexkv/facebook-clone/internal/models"
)

const roomPageSize = 20

// ListResponse is the paginated list envelope.
type ListResponse struct {
	Count    int                `json:"count"`
	Next     *string            `json:"next"`
	Previous *string            `json:"previous"`
	Results  []models.RoomEntry `json:"results"`
}

// ListRooms returns the caller's conversations ordered online friends
// first, then most recent activity, each with a preview of the last
// message and the unread count.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}
	offset := (page - 1) * roomPageSize

	entries, total, err := h.store.ListRoomEntries(r.Context(), user.ID, roomPageSize, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []models.RoomEntry{}
	}

	resp := ListResponse{Count: total, Results: entries}
	if offset+len(entries) < total {
		next := fmt.Sprintf("%s?page=%d", r.URL.Path, page+1)
		resp.Next = &next
	}
	if page > 1 {
		prev := r.URL.Path
		if page > 2 {
			prev = fmt.Sprintf("%s?page=%d", r.URL.Path, page-1)
		}
		resp.Previous = &prev
	}

	h.JSON(w, http.StatusOK, resp)
}

// GetRoom returns a single conversation from the caller's perspective.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
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

	entry, err := h.store.GetRoomEntry(r.Context(), user.ID, roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entry == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	h.JSON(w, http.StatusOK, entry)
}
