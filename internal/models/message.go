package models

// Message is a relayed chat message. Text is opaque ciphertext.
type Message struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`       // Unix ms
	Token     string `json:"token,omitempty"` // Owner token; only stored, never broadcast
}

// Public returns a copy of m without the owner token.
func (m Message) Public() Message {
	m.Token = ""
	return m
}

// RedactFor returns the message as seen by requester: the owner token is
// kept only when it is the requester's own.
func (m Message) RedactFor(requester string) Message {
	if m.Token != requester {
		m.Token = ""
	}
	return m
}
