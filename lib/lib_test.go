package lib

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
	"github.com/Tonyeligate/kelmah-messaging/lib/transport"
)

//Test doubles for the core's two external collaborators, plus a recording
//notification sink.

type fakeTransport struct {
	mu           sync.Mutex
	handlers     transport.Handlers
	bindCount    int
	connectCount int
	connected    bool

	joined     []chat.ConversationID
	left       []chat.ConversationID
	markedConv []chat.ConversationID
	markedMsg  []chat.MessageID
	typing     []chat.TypingEvent

	sendErr error
	//confirm builds the acknowledgement for a send; nil uses a default.
	confirm func(convID chat.ConversationID, content, token string) chat.Message
	//beforeAck runs after the send is submitted but before the ack returns,
	//for staging echo-before-ack races.
	beforeAck func(convID chat.ConversationID, content, token string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Bind(h transport.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
	f.bindCount++
}

func (f *fakeTransport) Connect(ctx context.Context, userID chat.UserID, authToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = transport.Handlers{}
	f.connected = false
	return nil
}

func (f *fakeTransport) JoinConversation(id chat.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeTransport) LeaveConversation(id chat.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
	return nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, convID chat.ConversationID, content string, attachments []chat.Attachment, token string) (chat.Message, error) {
	f.mu.Lock()
	sendErr := f.sendErr
	confirm := f.confirm
	beforeAck := f.beforeAck
	f.mu.Unlock()
	if sendErr != nil {
		return chat.Message{}, sendErr
	}
	if beforeAck != nil {
		beforeAck(convID, content, token)
	}
	if confirm != nil {
		return confirm(convID, content, token), nil
	}
	return chat.Message{
		ID:               "m-42",
		ConversationID:   convID,
		Sender:           chat.User{ID: "me", Name: "Me"},
		Content:          content,
		Attachments:      attachments,
		CreatedAt:        time.Now().UTC(),
		Status:           chat.StatusSent,
		CorrelationToken: token,
	}, nil
}

func (f *fakeTransport) SendTypingIndicator(convID chat.ConversationID, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chat.TypingEvent{ConversationID: convID, IsTyping: isTyping})
	return nil
}

func (f *fakeTransport) MarkConversationRead(convID chat.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedConv = append(f.markedConv, convID)
	return nil
}

func (f *fakeTransport) MarkMessageRead(id chat.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedMsg = append(f.markedMsg, id)
	return nil
}

//emit delivers an event through the currently bound handlers, like the real
//reader pump would.
func (f *fakeTransport) emit(apply func(transport.Handlers)) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	apply(h)
}

func (f *fakeTransport) markedMessages() []chat.MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.MessageID(nil), f.markedMsg...)
}

type fakeHistory struct {
	mu            sync.Mutex
	conversations []chat.Conversation
	messages      map[chat.ConversationID][]chat.Message
	convErr       error
	msgErr        error
	//gates block GetMessages per conversation until released, for staging
	//slow loads.
	gates map[chat.ConversationID]chan struct{}
	//loads records each GetMessages call in arrival order.
	loads []chat.ConversationID
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		messages: make(map[chat.ConversationID][]chat.Message),
		gates:    make(map[chat.ConversationID]chan struct{}),
	}
}

func (f *fakeHistory) GetConversations(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	return append([]chat.Conversation(nil), f.conversations...), nil
}

func (f *fakeHistory) GetMessages(ctx context.Context, convID chat.ConversationID) ([]chat.Message, error) {
	f.mu.Lock()
	f.loads = append(f.loads, convID)
	gate := f.gates[convID]
	msgErr := f.msgErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if msgErr != nil {
		return nil, msgErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.messages[convID]...), nil
}

func (f *fakeHistory) loaded(convID chat.ConversationID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.loads {
		if id == convID {
			return true
		}
	}
	return false
}

func (f *fakeHistory) CreateDirectConversation(ctx context.Context, recipientID chat.UserID) (chat.Conversation, error) {
	return chat.Conversation{
		ID:   chat.ConversationID("direct-" + string(recipientID)),
		Kind: chat.Direct,
		Participants: []chat.User{
			{ID: "me", Name: "Me"},
			{ID: recipientID},
		},
	}, nil
}

type recordedNote struct {
	kind, message string
}

type recordingSink struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recordingSink) Notify(kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, recordedNote{kind, message})
}

func (r *recordingSink) all() []recordedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedNote(nil), r.notes...)
}

type fixture struct {
	core      *Core
	transport *fakeTransport
	history   *fakeHistory
	sink      *recordingSink
}

func newFixture(quietWindow time.Duration) *fixture {
	ft := newFakeTransport()
	fh := newFakeHistory()
	sink := &recordingSink{}
	core := New(Config{
		Transport:         ft,
		History:           fh,
		Notifications:     sink,
		Log:               zerolog.Nop(),
		TypingQuietWindow: quietWindow,
	})
	return &fixture{core: core, transport: ft, history: fh, sink: sink}
}

func (fx *fixture) connect() error {
	return fx.core.Connect(context.Background(), Identity{
		User:      chat.User{ID: "me", Name: "Me"},
		AuthToken: "tok",
	})
}

func directConv(id string, peer chat.UserID) chat.Conversation {
	return chat.Conversation{
		ID:   chat.ConversationID(id),
		Kind: chat.Direct,
		Participants: []chat.User{
			{ID: "me", Name: "Me"},
			{ID: peer, Name: string(peer)},
		},
	}
}

func inboundMsg(id, convID string, sender chat.User, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:             chat.MessageID(id),
		ConversationID: chat.ConversationID(convID),
		Sender:         sender,
		Content:        content,
		CreatedAt:      at,
		Status:         chat.StatusSent,
	}
}
