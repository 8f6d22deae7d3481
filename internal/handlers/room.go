package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Ibragimm228/realtimechat/internal/api/middleware"
	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/ids"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

// CreateRoomRequest represents the room creation request. Both fields are
// optional and fall back to the configured defaults.
type CreateRoomRequest struct {
	TTL      *int `json:"ttl" validate:"omitempty,min=1"`
	Capacity *int `json:"capacity" validate:"omitempty,min=1"`
}

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// JoinRoomResponse represents a successful admission.
type JoinRoomResponse struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// TTLResponse carries the remaining room lifetime in seconds.
type TTLResponse struct {
	TTL int64 `json:"ttl"`
}

// CreateRoom handles room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	ttl, capacity := h.opts.DefaultRoomTTL, h.opts.DefaultRoomCapacity
	if req.TTL != nil {
		ttl = *req.TTL
	}
	if req.Capacity != nil {
		capacity = *req.Capacity
	}
	if ttl > h.opts.MaxRoomTTL {
		h.Fail(w, r, fmt.Errorf("%w: ttl must be at most %d", apperr.ErrValidation, h.opts.MaxRoomTTL))
		return
	}
	if capacity > h.opts.MaxRoomCapacity {
		h.Fail(w, r, fmt.Errorf("%w: capacity must be at most %d", apperr.ErrValidation, h.opts.MaxRoomCapacity))
		return
	}

	roomID, err := h.rooms.Create(r.Context(), capacity, time.Duration(ttl)*time.Second)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, CreateRoomResponse{RoomID: roomID})
}

// JoinRoom admits the caller to a room. A membership token cookie is minted
// for callers that do not have one yet.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if !ids.ValidRoomID(roomID) {
		h.Error(w, http.StatusBadRequest, "invalid-room")
		return
	}

	token, minted := "", false
	if cookie, err := r.Cookie(middleware.AuthCookie); err == nil && cookie.Value != "" && len(cookie.Value) <= auth.MaxTokenLength {
		token = cookie.Value
	} else {
		token, minted = ids.NewToken(), true
	}

	res, err := h.rooms.Admit(r.Context(), roomID, token)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	switch res {
	case models.RoomNotFound:
		h.Error(w, http.StatusNotFound, "room-not-found")
	case models.RoomFull:
		h.Error(w, http.StatusConflict, "room-full")
	default:
		if minted {
			http.SetCookie(w, &http.Cookie{
				Name:     middleware.AuthCookie,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				Secure:   h.opts.SecureCookies,
				SameSite: http.SameSiteStrictMode,
			})
		}
		h.JSON(w, http.StatusOK, JoinRoomResponse{RoomID: roomID, Status: "joined"})
	}
}

// RoomTTL reports how long the room has left.
func (h *Handler) RoomTTL(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	ttl, err := h.rooms.TTL(r.Context(), capability.RoomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, TTLResponse{TTL: ttl})
}

// DestroyRoom deletes the room for every member.
func (h *Handler) DestroyRoom(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	if err := h.rooms.Destroy(r.Context(), capability.RoomID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
