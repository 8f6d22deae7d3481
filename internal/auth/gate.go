// Package auth resolves a (roomId, token) pair into a room capability.
//
// Authorization is read-only and repeated on every request. It never
// consumes capacity; admission is a separate, one-time transition owned by
// the rooms package.
package auth

import (
	"context"
	"fmt"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

const (
	MaxRoomIDLength = 50
	MaxTokenLength  = 100
)

// Capability proves that Token is a member of RoomID. Handlers receive it by
// value from the auth middleware.
type Capability struct {
	RoomID string
	Token  string
}

// RoomReader loads room metadata.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

// Gate checks membership tokens against room metadata.
type Gate struct {
	rooms RoomReader
}

// NewGate creates a gate reading from rooms.
func NewGate(rooms RoomReader) *Gate {
	return &Gate{rooms: rooms}
}

// Authorize fails closed: any missing, oversized or unknown input yields
// apperr.ErrUnauthorized. Store failures are returned as-is.
func (g *Gate) Authorize(ctx context.Context, roomID, token string) (Capability, error) {
	if roomID == "" || token == "" {
		return Capability{}, fmt.Errorf("%w: missing roomId or token", apperr.ErrUnauthorized)
	}
	if len(roomID) > MaxRoomIDLength || len(token) > MaxTokenLength {
		return Capability{}, fmt.Errorf("%w: invalid roomId or token format", apperr.ErrUnauthorized)
	}

	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Capability{}, err
	}
	if room == nil || !room.IsMember(token) {
		return Capability{}, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}

	return Capability{RoomID: roomID, Token: token}, nil
}
