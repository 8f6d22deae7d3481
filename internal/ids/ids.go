// Package ids generates the opaque identifiers handed out by the relay.
package ids

import (
	"regexp"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/oklog/ulid/v2"
)

// Length of room ids and membership tokens.
const Length = 21

// roomIDRegex accepts the ids produced by NewRoomID with some slack for older clients.
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{10,64}$`)

var standard = mustGenerator(nanoid.Standard(Length))

func mustGenerator(gen func() string, err error) func() string {
	if err != nil {
		panic(err)
	}
	return gen
}

// NewRoomID returns a URL-safe, collision-resistant room id.
func NewRoomID() string {
	return standard()
}

// NewToken returns a fresh membership token.
func NewToken() string {
	return standard()
}

// NewMessageID returns a lexically time-ordered message id.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewSubscriberID generates a time-ordered UUID v7 for a realtime subscriber.
func NewSubscriberID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ValidRoomID reports whether id has the shape of a room id.
func ValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}
