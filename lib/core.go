//Package lib implements the synchronization core behind Kelmah's messaging
//feature. It reconciles three independent event sources - REST history
//fetches, push events from the realtime transport, and local optimistic
//sends - into one consistent per-conversation timeline, and tracks typing and
//presence state alongside.
package lib

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
	"github.com/Tonyeligate/kelmah-messaging/lib/history"
	"github.com/Tonyeligate/kelmah-messaging/lib/presence"
	"github.com/Tonyeligate/kelmah-messaging/lib/store"
	"github.com/Tonyeligate/kelmah-messaging/lib/timeline"
	"github.com/Tonyeligate/kelmah-messaging/lib/transport"
)

//NotificationSink receives transient user-facing advisories (the toast
//equivalent). Injected so tests can record them instead of painting them.
type NotificationSink interface {
	Notify(kind, message string)
}

//Identity is the authenticated local user the core acts as.
type Identity struct {
	User      chat.User
	AuthToken string
}

//Core composes the conversation store, the timeline engine, the presence
//tracker, the transport and the history service into the single object the
//view layer talks to. The view only reads snapshots and only mutates state
//through Core operations.
//
//One mutex serializes all state transitions. It is never held across network
//I/O: the suspending operations capture what they need, release it, await the
//network, then re-acquire and revalidate before applying the result.
type Core struct {
	transport transport.Adapter
	history   history.Service
	store     *store.Conversations
	timelines *timeline.Engine
	tracker   *presence.Tracker
	notify    NotificationSink
	log       zerolog.Logger

	mu        sync.Mutex
	self      chat.User
	connected bool
	active    *chat.Conversation
	loadSeq   uint64
	loading   bool
	errMsg    string
}

//sendEchoWindow bounds the heuristic fallback that matches a transport echo to
//a pending local send when no correlation token survived the round-trip.
const sendEchoWindow = 15 * time.Second

//Config wires a Core to its collaborators.
type Config struct {
	Transport     transport.Adapter
	History       history.Service
	Notifications NotificationSink
	Log           zerolog.Logger
	//TypingQuietWindow overrides how long an unrefreshed typing indicator
	//stays visible. Zero selects the default.
	TypingQuietWindow time.Duration
}

//New constructs a Core. A nil Notifications sink discards advisories.
func New(conf Config) *Core {
	sink := conf.Notifications
	if sink == nil {
		sink = discardSink{}
	}
	return &Core{
		transport: conf.Transport,
		history:   conf.History,
		store:     store.New(),
		timelines: timeline.NewEngine(),
		tracker:   presence.NewTracker(conf.TypingQuietWindow),
		notify:    sink,
		log:       conf.Log,
	}
}

type discardSink struct{}

func (discardSink) Notify(string, string) {}

//Connect binds the transport to the given identity, registers the inbound
//event handlers and loads the conversation list. Calling Connect while already
//connected re-binds the handlers (replacing, never stacking them) and
//refreshes; it never opens a second connection.
func (c *Core) Connect(ctx context.Context, identity Identity) error {
	c.mu.Lock()
	c.self = identity.User
	c.errMsg = ""
	alreadyConnected := c.connected
	c.mu.Unlock()

	c.transport.Bind(c.handlers())
	if !alreadyConnected {
		if err := c.transport.Connect(ctx, identity.User.ID, identity.AuthToken); err != nil {
			c.setError("Failed to connect to messaging service")
			return err
		}
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
	}
	return c.RefreshConversations(ctx)
}

//Disconnect unregisters all handlers and releases the transport. Safe from any
//teardown path, including when Connect was never called.
func (c *Core) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.active = nil
	c.loadSeq++
	c.mu.Unlock()
	return c.transport.Disconnect()
}

//RefreshConversations fetches the conversation list and merges it into the
//store. A partial result never removes conversations that are absent from it;
//the fetch is authoritative for what it contains, not for what it omits.
func (c *Core) RefreshConversations(ctx context.Context) error {
	c.setLoading(true)
	conversations, err := c.history.GetConversations(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Fetching conversations failed")
		c.setLoading(false)
		c.setError("Failed to load conversations")
		return err
	}
	for _, conv := range conversations {
		c.store.Upsert(conv, true)
	}
	c.setLoading(false)
	c.clearError()
	return nil
}

//SetActiveConversation switches the chat pane to conv, or to none if conv is
//nil. Switching leaves the previous conversation's room, joins the new one,
//clears its unread count and loads its history. A load still in flight when
//the active conversation changes again is discarded on arrival. Setting the
//already-active conversation is a no-op.
func (c *Core) SetActiveConversation(ctx context.Context, conv *chat.Conversation) error {
	c.mu.Lock()
	if conv != nil && c.active != nil && conv.ID == c.active.ID {
		c.mu.Unlock()
		return nil
	}
	prev := c.active
	self := c.self.ID
	if conv == nil {
		c.active = nil
	} else {
		picked := *conv
		c.active = &picked
	}
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	if prev != nil {
		if err := c.transport.LeaveConversation(prev.ID); err != nil {
			c.log.Debug().Err(err).Str("conversation", string(prev.ID)).Msg("Leaving room failed")
		}
	}
	if conv == nil {
		return nil
	}
	if err := c.transport.JoinConversation(conv.ID); err != nil {
		c.log.Debug().Err(err).Str("conversation", string(conv.ID)).Msg("Joining room failed")
	}
	c.store.ClearUnread(conv.ID)

	c.setLoading(true)
	msgs, err := c.history.GetMessages(ctx, conv.ID)

	c.mu.Lock()
	if c.loadSeq != seq {
		//The active conversation moved on while this load was in flight;
		//its result must not clobber the current timeline, and the loading
		//flag now belongs to the newer load.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.loading = false
		c.errMsg = "Failed to load messages"
		c.mu.Unlock()
		c.log.Error().Err(err).Str("conversation", string(conv.ID)).Msg("Loading messages failed")
		return err
	}
	c.timelines.Replace(conv.ID, msgs)
	c.loading = false
	c.errMsg = ""
	c.mu.Unlock()

	//Fire-and-forget read receipts for everything inbound and unread; a
	//failure here must not block the load.
	unread := c.timelines.UnreadInbound(conv.ID, self)
	go func() {
		if err := c.transport.MarkConversationRead(conv.ID); err != nil {
			c.log.Debug().Err(err).Msg("markRead failed")
			return
		}
		for _, id := range unread {
			if err := c.transport.MarkMessageRead(id); err != nil {
				c.log.Debug().Err(err).Msg("markRead failed")
				return
			}
		}
	}()
	return nil
}

//Send submits a message to the active conversation. The provisional message is
//appended and returned before any network traffic happens; once the transport
//acknowledges, the same timeline slot holds the confirmed message. On
//rejection the provisional entry is marked failed, a failure notification is
//raised, and the error is returned alongside the failed message.
//
//Reconciliation targets the conversation the message was sent to, not
//whichever conversation is active by the time the acknowledgement arrives.
func (c *Core) Send(ctx context.Context, content string, attachments []chat.Attachment) (chat.Message, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return chat.Message{}, chat.ErrNoActiveConversation
	}
	convID := c.active.ID
	self := c.self
	c.mu.Unlock()

	provisional := c.timelines.AppendOptimistic(convID, self, content, attachments)

	confirmed, err := c.transport.SendMessage(ctx, convID, content, attachments, provisional.CorrelationToken)
	if err != nil {
		c.timelines.Fail(convID, provisional.ID)
		c.log.Error().Err(err).Str("conversation", string(convID)).Msg("Sending message failed")
		c.notify.Notify("error", "Failed to send message")
		provisional.Status = chat.StatusFailed
		return provisional, err
	}
	if c.timelines.Reconcile(convID, provisional.ID, confirmed) {
		c.store.SetLastMessage(convID, confirmed.Summary())
	}
	return confirmed, nil
}

//UpdateTyping forwards the local user's typing status to the transport. It
//never touches the tracker: indicators are driven by inbound events only, so
//your own signal cannot echo back into your own view.
func (c *Core) UpdateTyping(convID chat.ConversationID, isTyping bool) {
	if convID == "" {
		return
	}
	if err := c.transport.SendTypingIndicator(convID, isTyping); err != nil {
		c.log.Debug().Err(err).Msg("Sending typing indicator failed")
	}
}

//CreateDirectConversation creates (or fetches) the one-to-one conversation
//with the recipient and places it at the top of the list.
func (c *Core) CreateDirectConversation(ctx context.Context, recipientID chat.UserID) (chat.Conversation, error) {
	conv, err := c.history.CreateDirectConversation(ctx, recipientID)
	if err != nil {
		c.log.Error().Err(err).Msg("Creating conversation failed")
		c.notify.Notify("error", "Failed to create conversation")
		return chat.Conversation{}, err
	}
	c.store.Upsert(conv, true)
	c.store.ReorderToTop(conv.ID)
	return conv, nil
}

//MarkConversationRead tells the server the conversation has been seen and
//clears its unread count locally right away.
func (c *Core) MarkConversationRead(convID chat.ConversationID) {
	if convID == "" {
		return
	}
	if err := c.transport.MarkConversationRead(convID); err != nil {
		c.log.Debug().Err(err).Msg("markRead failed")
	}
	c.store.ClearUnread(convID)
}

//DeleteMessage removes a message from its timeline. If it was the
//conversation's last message, the denormalized snapshot is recomputed.
func (c *Core) DeleteMessage(convID chat.ConversationID, id chat.MessageID) {
	if !c.timelines.Delete(convID, id) {
		return
	}
	conv, ok := c.store.Get(convID)
	if !ok || conv.LastMessage == nil || conv.LastMessage.ID != id {
		return
	}
	if last, ok := c.timelines.LastMessage(convID); ok {
		c.store.RecomputeLastMessage(convID, last.Summary())
	} else {
		c.store.RecomputeLastMessage(convID, nil)
	}
}

func (c *Core) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

func (c *Core) setError(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
}

func (c *Core) clearError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}
