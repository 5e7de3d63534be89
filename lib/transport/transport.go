//Package transport connects to the realtime messaging service: a persistent
//bidirectional connection that pushes typed events and accepts send-style
//calls.
package transport

import (
	"context"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//Handlers receives inbound events. Nil fields are simply not called. Binding a
//new Handlers replaces the previous one wholesale, so re-connecting never
//stacks subscriptions and never delivers an event twice.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnMessage    func(chat.Message)
	OnTyping     func(chat.TypingEvent)
	OnRead       func(chat.ReadEvent)
	OnPresence   func(chat.PresenceEvent)
	OnError      func(chat.ErrorEvent)
}

//Adapter is the contract the synchronization core consumes. The connection and
//reconnection machinery behind it is the implementation's own business.
type Adapter interface {
	//Connect opens the connection as the given user. Safe to call again after
	//a Disconnect.
	Connect(ctx context.Context, userID chat.UserID, authToken string) error
	//Disconnect releases the connection. Handlers are unbound before it
	//returns: no event is delivered afterwards. Safe to call when never
	//connected.
	Disconnect() error
	//Bind replaces the full handler set.
	Bind(h Handlers)

	JoinConversation(id chat.ConversationID) error
	LeaveConversation(id chat.ConversationID) error
	//SendMessage submits a message and blocks until the server's
	//acknowledgement, matched by correlation token, or ctx expires.
	SendMessage(ctx context.Context, convID chat.ConversationID, content string, attachments []chat.Attachment, correlationToken string) (chat.Message, error)
	SendTypingIndicator(convID chat.ConversationID, isTyping bool) error
	MarkConversationRead(convID chat.ConversationID) error
	MarkMessageRead(id chat.MessageID) error
}
