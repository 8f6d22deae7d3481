// Package rooms owns the lifecycle of ephemeral rooms: creation,
// capacity-gated admission, remaining lifetime and destruction.
package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/ids"
	"github.com/Ibragimm228/realtimechat/internal/metrics"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

// Store is the slice of the ephemeral store the manager needs.
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room, ttl time.Duration) error
	AdmitToken(ctx context.Context, roomID, token string) (models.AdmitResult, error)
	RoomTTL(ctx context.Context, roomID string) (time.Duration, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Publisher broadcasts room events.
type Publisher interface {
	Publish(ctx context.Context, roomID string, kind models.EventKind, payload any) error
}

// Manager creates, admits to, inspects and destroys rooms.
type Manager struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a room manager.
func NewManager(store Store, publisher Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create stores a new room with empty membership and returns its id.
func (m *Manager) Create(ctx context.Context, capacity int, ttl time.Duration) (string, error) {
	if capacity < 1 {
		return "", fmt.Errorf("%w: capacity must be at least 1", apperr.ErrValidation)
	}
	if ttl < time.Second {
		return "", fmt.Errorf("%w: ttl must be at least 1 second", apperr.ErrValidation)
	}

	room := &models.Room{
		ID:        ids.NewRoomID(),
		Capacity:  capacity,
		CreatedAt: m.now().UnixMilli(),
		Connected: []string{},
	}
	if err := m.store.CreateRoom(ctx, room, ttl); err != nil {
		return "", err
	}

	metrics.RoomsCreated.Inc()
	m.logger.Info().
		Str("room_id", room.ID).
		Int("capacity", capacity).
		Dur("ttl", ttl).
		Msg("room created")

	return room.ID, nil
}

// Admit consumes a capacity slot for token. Re-admitting a member succeeds
// without consuming another slot.
func (m *Manager) Admit(ctx context.Context, roomID, token string) (models.AdmitResult, error) {
	if token == "" || len(token) > auth.MaxTokenLength {
		return 0, fmt.Errorf("%w: invalid token", apperr.ErrValidation)
	}
	if len(roomID) > auth.MaxRoomIDLength {
		return models.RoomNotFound, nil
	}

	res, err := m.store.AdmitToken(ctx, roomID, token)
	if err != nil {
		return 0, err
	}

	metrics.Admissions.WithLabelValues(res.String()).Inc()
	m.logger.Debug().
		Str("room_id", roomID).
		Str("outcome", res.String()).
		Msg("admission")

	return res, nil
}

// TTL returns the whole seconds left before the room expires; never negative.
func (m *Manager) TTL(ctx context.Context, roomID string) (int64, error) {
	ttl, err := m.store.RoomTTL(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return int64(ttl / time.Second), nil
}

// Destroy tells subscribers the room is gone, then deletes every room key.
// Deletion is best-effort and never retried; leftovers expire with the TTL.
func (m *Manager) Destroy(ctx context.Context, roomID string) error {
	err := m.publisher.Publish(ctx, roomID, models.EventDestroy, models.DestroyEvent{
		IsDestroyed: true,
		RoomID:      roomID,
		Timestamp:   m.now().UnixMilli(),
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("room_id", roomID).Msg("destroy event not published")
	}

	if err := m.store.DeleteRoom(ctx, roomID); err != nil {
		m.logger.Error().Err(err).Str("room_id", roomID).Msg("room partially deleted")
		return err
	}

	metrics.RoomsDestroyed.Inc()
	m.logger.Info().Str("room_id", roomID).Msg("room destroyed")
	return nil
}
