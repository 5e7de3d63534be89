package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//DefaultAckTimeout bounds how long SendMessage waits for the server's
//acknowledgement when the caller's context has no deadline of its own.
const DefaultAckTimeout = 10 * time.Second

//outbound is the frame shape for everything the client sends.
type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type sendPayload struct {
	ConversationID   chat.ConversationID `json:"conversationId"`
	Content          string              `json:"content"`
	Attachments      []chat.Attachment   `json:"attachments,omitempty"`
	CorrelationToken string              `json:"correlationToken"`
}

type typingPayload struct {
	ConversationID chat.ConversationID `json:"conversationId"`
	IsTyping       bool                `json:"isTyping"`
}

type roomPayload struct {
	ConversationID chat.ConversationID `json:"conversationId"`
}

type readPayload struct {
	ConversationID chat.ConversationID `json:"conversationId,omitempty"`
	MessageID      chat.MessageID      `json:"messageId,omitempty"`
}

//Websocket is the production Adapter: a single gorilla/websocket connection
//with a reader pump dispatching inbound events and a correlation-token map
//resolving SendMessage acknowledgements.
type Websocket struct {
	URL        string
	AckTimeout time.Duration
	Log        zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers Handlers
	pending  map[string]chan chat.Message
	gen      int
}

//NewWebsocket constructs a websocket adapter for the given ws:// or wss:// URL.
func NewWebsocket(url string, log zerolog.Logger) *Websocket {
	return &Websocket{
		URL:        url,
		AckTimeout: DefaultAckTimeout,
		Log:        log,
		pending:    make(map[string]chan chat.Message),
	}
}

//Bind replaces the handler set.
func (w *Websocket) Bind(h Handlers) {
	w.mu.Lock()
	w.handlers = h
	w.mu.Unlock()
}

//Connect dials the messaging service. Calling Connect while connected is a
//no-op.
func (w *Websocket) Connect(ctx context.Context, userID chat.UserID, authToken string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+authToken)
	header.Set("X-Kelmah-User", string(userID))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.URL, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", w.URL, err)
	}
	w.conn = conn
	w.gen++
	go w.readPump(conn, w.gen)
	if w.handlers.OnConnect != nil {
		go w.handlers.OnConnect()
	}
	return nil
}

//Disconnect closes the connection and unbinds the handlers before returning,
//so no in-flight event can be delivered afterwards. Safe to call when never
//connected.
func (w *Websocket) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = Handlers{}
	w.gen++
	for token, ch := range w.pending {
		close(ch)
		delete(w.pending, token)
	}
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *Websocket) readPump(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			stale := gen != w.gen
			h := w.handlers
			if !stale && w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			if !stale && h.OnDisconnect != nil {
				h.OnDisconnect(err.Error())
			}
			return
		}
		var event chat.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			w.Log.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		w.dispatch(event, gen)
	}
}

func (w *Websocket) dispatch(event chat.Event, gen int) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	h := w.handlers
	w.mu.Unlock()
	switch event.Type {
	case chat.EventAck, chat.EventMessage:
		var msg chat.Message
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			w.Log.Warn().Err(err).Str("type", event.Type).Msg("Bad message payload")
			return
		}
		if msg.CorrelationToken != "" && w.resolve(msg) && event.Type == chat.EventAck {
			//A bare ack only settles the pending send; echoes still flow
			//through OnMessage so the core can dedup them.
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	case chat.EventTyping:
		var ev chat.TypingEvent
		if err := json.Unmarshal(event.Data, &ev); err == nil && h.OnTyping != nil {
			h.OnTyping(ev)
		}
	case chat.EventRead:
		var ev chat.ReadEvent
		if err := json.Unmarshal(event.Data, &ev); err == nil && h.OnRead != nil {
			h.OnRead(ev)
		}
	case chat.EventPresence:
		var ev chat.PresenceEvent
		if err := json.Unmarshal(event.Data, &ev); err == nil && h.OnPresence != nil {
			h.OnPresence(ev)
		}
	case chat.EventError:
		var ev chat.ErrorEvent
		if err := json.Unmarshal(event.Data, &ev); err == nil && h.OnError != nil {
			h.OnError(ev)
		}
	default:
		w.Log.Debug().Str("type", event.Type).Msg("Ignoring unknown event type")
	}
}

//resolve hands a confirmed message to the waiter registered under its
//correlation token, if any.
func (w *Websocket) resolve(msg chat.Message) bool {
	w.mu.Lock()
	ch, ok := w.pending[msg.CorrelationToken]
	if ok {
		delete(w.pending, msg.CorrelationToken)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	close(ch)
	return true
}

func (w *Websocket) write(frame outbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return chat.ErrNotConnected
	}
	return w.conn.WriteJSON(frame)
}

//JoinConversation subscribes to a conversation's room.
func (w *Websocket) JoinConversation(id chat.ConversationID) error {
	return w.write(outbound{Type: "join", Data: roomPayload{ConversationID: id}})
}

//LeaveConversation unsubscribes from a conversation's room.
func (w *Websocket) LeaveConversation(id chat.ConversationID) error {
	return w.write(outbound{Type: "leave", Data: roomPayload{ConversationID: id}})
}

//SendMessage submits a message and waits for the acknowledgement carrying the
//same correlation token.
func (w *Websocket) SendMessage(ctx context.Context, convID chat.ConversationID, content string, attachments []chat.Attachment, correlationToken string) (chat.Message, error) {
	ch := make(chan chat.Message, 1)
	w.mu.Lock()
	if w.conn == nil {
		w.mu.Unlock()
		return chat.Message{}, chat.ErrNotConnected
	}
	w.pending[correlationToken] = ch
	w.mu.Unlock()

	abandon := func() {
		w.mu.Lock()
		delete(w.pending, correlationToken)
		w.mu.Unlock()
	}

	err := w.write(outbound{Type: chat.EventMessage, Data: sendPayload{
		ConversationID:   convID,
		Content:          content,
		Attachments:      attachments,
		CorrelationToken: correlationToken,
	}})
	if err != nil {
		abandon()
		return chat.Message{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.AckTimeout)
		defer cancel()
	}
	select {
	case msg, ok := <-ch:
		if !ok {
			return chat.Message{}, chat.ErrNotConnected
		}
		return msg, nil
	case <-ctx.Done():
		abandon()
		if ctx.Err() == context.DeadlineExceeded {
			return chat.Message{}, chat.ErrSendTimeout
		}
		return chat.Message{}, ctx.Err()
	}
}

//SendTypingIndicator broadcasts the local user's typing status.
func (w *Websocket) SendTypingIndicator(convID chat.ConversationID, isTyping bool) error {
	return w.write(outbound{Type: chat.EventTyping, Data: typingPayload{ConversationID: convID, IsTyping: isTyping}})
}

//MarkConversationRead tells the server every message in the conversation has
//been seen.
func (w *Websocket) MarkConversationRead(convID chat.ConversationID) error {
	return w.write(outbound{Type: chat.EventRead, Data: readPayload{ConversationID: convID}})
}

//MarkMessageRead tells the server a single message has been seen.
func (w *Websocket) MarkMessageRead(id chat.MessageID) error {
	return w.write(outbound{Type: chat.EventRead, Data: readPayload{MessageID: id}})
}
