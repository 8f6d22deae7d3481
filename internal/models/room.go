package models

import "slices"

// Room is the metadata record of an ephemeral room.
type Room struct {
	ID        string   `json:"roomId"`
	Capacity  int      `json:"capacity"`
	CreatedAt int64    `json:"createdAt"` // Unix ms
	Connected []string `json:"connected"` // Admitted tokens in admission order
}

// IsMember reports whether token has been admitted to the room.
func (r *Room) IsMember(token string) bool {
	return slices.Contains(r.Connected, token)
}

// HasCapacity reports whether another token can be admitted.
func (r *Room) HasCapacity() bool {
	return len(r.Connected) < r.Capacity
}

// AdmitResult is the outcome of an admission attempt.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	RoomFull
	RoomNotFound
)

func (a AdmitResult) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case RoomFull:
		return "full"
	case RoomNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
