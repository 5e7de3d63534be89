package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

//MessageID identifies a chat message. Server-assigned, except for provisional
//messages which carry a locally generated id until the server confirms them.
type MessageID string

//ConversationID identifies a conversation.
type ConversationID string

//UserID identifies a user.
type UserID string

//provisionalPrefix tags locally generated ids so they can never collide with
//server-assigned ones.
const provisionalPrefix = "temp-"

//NewProvisionalID issues a fresh provisional message id. The id doubles as the
//correlation token carried through the transport round-trip.
func NewProvisionalID() MessageID {
	return MessageID(provisionalPrefix + uuid.NewString())
}

//Provisional reports whether this id was locally generated and is still
//awaiting server confirmation.
func (id MessageID) Provisional() bool {
	return strings.HasPrefix(string(id), provisionalPrefix)
}

//MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	//StatusSending means the message exists only locally, awaiting the transport.
	StatusSending MessageStatus = "sending"
	//StatusSent means the server has acknowledged the message.
	StatusSent MessageStatus = "sent"
	//StatusDelivered means the recipient's client has received the message.
	StatusDelivered MessageStatus = "delivered"
	//StatusRead means the recipient has seen the message.
	StatusRead MessageStatus = "read"
	//StatusFailed means the transport rejected the send. Terminal; a retry is a new message.
	StatusFailed MessageStatus = "failed"
)

//Rank orders the receipt-driven statuses so upgrades are monotonic:
//sent < delivered < read. sending and failed sit outside that progression.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

//User is a participant snapshot as it appears on messages and conversations.
type User struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"profileImage,omitempty"`
}

//Attachment describes a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
}

//Message is a single chat message.
type Message struct {
	ID               MessageID      `json:"id"`
	ConversationID   ConversationID `json:"conversationId"`
	Sender           User           `json:"sender"`
	Content          string         `json:"content"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	Status           MessageStatus  `json:"status"`
	IsRead           bool           `json:"isRead"`
	CorrelationToken string         `json:"correlationToken,omitempty"`
}

//ConversationKind distinguishes one-to-one chats from group chats.
type ConversationKind string

const (
	Direct ConversationKind = "direct"
	Group  ConversationKind = "group"
)

//LastMessage is the denormalized most-recent-message snapshot shown in the
//conversation list.
type LastMessage struct {
	ID        MessageID `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  UserID    `json:"senderId"`
}

//Conversation is a container for a bunch of messages.
type Conversation struct {
	ID           ConversationID   `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []User           `json:"participants"`
	LastMessage  *LastMessage     `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	LastActivity time.Time        `json:"lastActivity,omitempty"`
}

//Summary returns the LastMessage snapshot for m.
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		SenderID:  m.Sender.ID,
	}
}
