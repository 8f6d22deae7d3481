package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/ids"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingEvery  = 15 * time.Second
	wsReadLimit  = 512
	wsBufferSize = 1024
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}

// Events streams room events over a websocket until the client leaves or
// the room is destroyed. Clients never send anything but control frames.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	// Subscribe before upgrading so failures still get a JSON error
	sub, err := h.broker.Subscribe(r.Context(), capability.RoomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn().Err(err).Str("room_id", capability.RoomID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().
		Str("room_id", capability.RoomID).
		Str("subscriber_id", ids.NewSubscriberID().String()).
		Logger()
	logger.Debug().Msg("subscriber connected")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(wsReadLimit)
		conn.SetReadDeadline(time.Now().Add(2 * wsPingEvery))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * wsPingEvery))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug().Err(err).Msg("subscriber write failed")
				return
			}
			if evt.Kind == models.EventDestroy {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room destroyed"),
					time.Now().Add(wsWriteWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Msg("subscriber disconnected")
			return
		}
	}
}
