package models

import "encoding/json"

// EventKind names a realtime event on a room channel.
type EventKind string

const (
	EventMessage EventKind = "chat.message"
	EventTyping  EventKind = "chat.typing"
	EventDelete  EventKind = "chat.delete"
	EventDestroy EventKind = "chat.destroy"
)

// Event is the envelope published on a room channel.
type Event struct {
	Kind EventKind       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// TypingEvent signals that a member started or stopped typing.
type TypingEvent struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

// DeleteEvent names a message removed from the room.
type DeleteEvent struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}

// DestroyEvent tells subscribers the room is gone.
type DestroyEvent struct {
	IsDestroyed bool   `json:"isDestroyed"`
	RoomID      string `json:"roomId"`
	Timestamp   int64  `json:"timestamp"`
}
