package chat

import "encoding/json"

//Event is the wire envelope for everything the transport pushes to us.
//Location is the resource the event concerns, eg /conversations/abc123.
type Event struct {
	Type     string          `json:"type"`
	Location string          `json:"location,omitempty"`
	Data     json.RawMessage `json:"data"`
}

//Event types the transport emits.
const (
	EventMessage  = "message"
	EventTyping   = "typing"
	EventRead     = "read"
	EventPresence = "presence"
	EventError    = "error"
	//EventAck confirms a sent message, echoing its correlation token.
	EventAck = "ack"
)

//TypingEvent signals that a user started or stopped typing in a conversation.
type TypingEvent struct {
	ConversationID ConversationID `json:"conversationId"`
	UserID         UserID         `json:"userId"`
	UserName       string         `json:"userName,omitempty"`
	IsTyping       bool           `json:"isTyping"`
}

//ReadEvent signals that messages in a conversation have been read.
type ReadEvent struct {
	ConversationID ConversationID `json:"conversationId"`
	MessageIDs     []MessageID    `json:"messageIds"`
}

//PresenceEvent signals a change in a user's online status.
type PresenceEvent struct {
	UserID UserID `json:"userId"`
	Status string `json:"status"`
}

//Online reports whether the event marks the user as online.
func (p PresenceEvent) Online() bool {
	return p.Status == "online"
}

//ErrorEvent is a non-fatal advisory from the transport.
type ErrorEvent struct {
	Message string `json:"message"`
}
