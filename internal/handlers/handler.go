package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/realtime"
	"github.com/Ibragimm228/realtimechat/internal/relay"
	"github.com/Ibragimm228/realtimechat/internal/rooms"
	"github.com/Ibragimm228/realtimechat/internal/store"
)

// Options holds request bounds and cookie settings.
type Options struct {
	DefaultRoomTTL      int // seconds
	DefaultRoomCapacity int
	MaxRoomTTL          int // seconds
	MaxRoomCapacity     int
	SecureCookies       bool
	AllowedOrigins      []string
	StoreMode           string // StoreExternal or StoreEmbedded
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	rooms    *rooms.Manager
	relay    *relay.Relay
	broker   *realtime.Broker
	redis    *store.RedisStore
	opts     Options
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(
	redisStore *store.RedisStore,
	roomManager *rooms.Manager,
	messageRelay *relay.Relay,
	broker *realtime.Broker,
	opts Options,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		rooms:    roomManager,
		relay:    messageRelay,
		broker:   broker,
		redis:    redisStore,
		opts:     opts,
		validate: validator.New(),
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps err to its HTTP status. Unexpected faults are logged and
// reported with their description.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.JSON(w, status, map[string]string{
			"error":   "Internal Server Error",
			"message": err.Error(),
		})
	case http.StatusUnauthorized:
		h.Error(w, status, "Unauthorized")
	case http.StatusNotFound:
		h.Error(w, status, apperr.ErrRoomNotFound.Error())
	default:
		h.Error(w, status, err.Error())
	}
}

// decode reads an optional JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body", apperr.ErrValidation)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrValidation, describe(err))
	}
	return nil
}

// describe turns validator output into a short client-facing message.
func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
