// Package relay handles posting, listing, deleting and typing signals for
// room messages. Message text is opaque ciphertext and never inspected.
package relay

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/ids"
	"github.com/Ibragimm228/realtimechat/internal/metrics"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

const (
	MaxSenderLength = 100
	MaxTextLength   = 5000
)

// Store is the slice of the ephemeral store the relay needs.
type Store interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	BindName(ctx context.Context, roomID, token, name string) (string, error)
	LookupName(ctx context.Context, roomID, token string) (string, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	RemoveMessage(ctx context.Context, roomID, messageID string) (bool, error)
	SyncTTL(ctx context.Context, roomID string) (time.Duration, error)
}

// Publisher broadcasts room events.
type Publisher interface {
	Publish(ctx context.Context, roomID string, kind models.EventKind, payload any) error
}

// Relay moves messages between room members.
type Relay struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a relay.
func New(store Store, publisher Publisher, logger zerolog.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Post appends a message to the room and announces it. The sender name is
// replaced by the name already bound to the token, if any. An empty sender
// is accepted only once a name is bound.
func (r *Relay) Post(ctx context.Context, capability auth.Capability, sender, text string) (models.Message, error) {
	if utf8.RuneCountInString(sender) > MaxSenderLength {
		return models.Message{}, fmt.Errorf("%w: sender must be at most %d characters", apperr.ErrValidation, MaxSenderLength)
	}
	if text == "" || utf8.RuneCountInString(text) > MaxTextLength {
		return models.Message{}, fmt.Errorf("%w: text must be 1-%d characters", apperr.ErrValidation, MaxTextLength)
	}

	if err := r.requireRoom(ctx, capability.RoomID); err != nil {
		return models.Message{}, err
	}

	if sender == "" {
		bound, err := r.store.LookupName(ctx, capability.RoomID, capability.Token)
		if err != nil {
			return models.Message{}, err
		}
		if bound == "" {
			return models.Message{}, fmt.Errorf("%w: sender is required", apperr.ErrValidation)
		}
		sender = bound
	}

	name, err := r.store.BindName(ctx, capability.RoomID, capability.Token, sender)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        ids.NewMessageID(),
		RoomID:    capability.RoomID,
		Sender:    name,
		Text:      text,
		Timestamp: r.now().UnixMilli(),
		Token:     capability.Token,
	}
	if err := r.store.AppendMessage(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	metrics.MessagesRelayed.Inc()

	// Published only after the append so events follow list order
	if err := r.publisher.Publish(ctx, msg.RoomID, models.EventMessage, msg.Public()); err != nil {
		r.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("message event not published")
	}

	if _, err := r.store.SyncTTL(ctx, msg.RoomID); err != nil {
		r.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("ttl not re-armed")
	}

	return msg, nil
}

// List returns the room's messages in insertion order. The owner token is
// only echoed on the requester's own messages.
func (r *Relay) List(ctx context.Context, capability auth.Capability) ([]models.Message, error) {
	if err := r.requireRoom(ctx, capability.RoomID); err != nil {
		return nil, err
	}

	messages, err := r.store.ListMessages(ctx, capability.RoomID)
	if err != nil {
		return nil, err
	}

	return lo.Map(messages, func(msg models.Message, _ int) models.Message {
		return msg.RedactFor(capability.Token)
	}), nil
}

// Delete removes the first message with messageID. Any member may delete any
// message. Deleting an unknown id is a no-op and reports false.
func (r *Relay) Delete(ctx context.Context, capability auth.Capability, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("%w: messageId is required", apperr.ErrValidation)
	}

	removed, err := r.store.RemoveMessage(ctx, capability.RoomID, messageID)
	if err != nil || !removed {
		return false, err
	}
	metrics.MessagesDeleted.Inc()

	err = r.publisher.Publish(ctx, capability.RoomID, models.EventDelete, models.DeleteEvent{
		MessageID: messageID,
		RoomID:    capability.RoomID,
		Timestamp: r.now().UnixMilli(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("room_id", capability.RoomID).Msg("delete event not published")
	}
	return true, nil
}

// Typing broadcasts a typing indicator. Nothing is persisted and no name is
// bound; an existing binding still overrides username.
func (r *Relay) Typing(ctx context.Context, capability auth.Capability, isTyping bool, username string) error {
	if utf8.RuneCountInString(username) > MaxSenderLength {
		return fmt.Errorf("%w: username must be at most %d characters", apperr.ErrValidation, MaxSenderLength)
	}

	name, err := r.store.LookupName(ctx, capability.RoomID, capability.Token)
	if err != nil {
		return err
	}
	if name == "" {
		name = username
	}

	return r.publisher.Publish(ctx, capability.RoomID, models.EventTyping, models.TypingEvent{
		RoomID:    capability.RoomID,
		Username:  name,
		IsTyping:  isTyping,
		Timestamp: r.now().UnixMilli(),
	})
}

func (r *Relay) requireRoom(ctx context.Context, roomID string) error {
	exists, err := r.store.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.ErrRoomNotFound
	}
	return nil
}
