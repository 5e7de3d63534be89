package lib

import (
	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
	"github.com/Tonyeligate/kelmah-messaging/lib/transport"
)

//handlers builds the inbound event handler set. Each handler is idempotent and
//tolerant of arbitrary arrival order, because the transport's push events, the
//direct send acknowledgements and the history fetches race freely.
func (c *Core) handlers() transport.Handlers {
	return transport.Handlers{
		OnConnect:    c.handleConnect,
		OnDisconnect: c.handleDisconnect,
		OnMessage:    c.handleMessage,
		OnTyping:     c.handleTyping,
		OnRead:       c.handleRead,
		OnPresence:   c.handlePresence,
		OnError:      c.handleTransportError,
	}
}

func (c *Core) handleConnect() {
	c.log.Info().Msg("Connected to messaging service")
}

//handleDisconnect is purely informational: no state is torn down, and the
//transport owns reconnection.
func (c *Core) handleDisconnect(reason string) {
	c.log.Info().Str("reason", reason).Msg("Disconnected from messaging service")
}

func (c *Core) handleMessage(msg chat.Message) {
	c.mu.Lock()
	self := c.self.ID
	activeID := chat.ConversationID("")
	if c.active != nil {
		activeID = c.active.ID
	}
	c.mu.Unlock()

	fromSelf := msg.Sender.ID == self

	switch {
	case c.reconcileEcho(msg, fromSelf):
		//An echo of a pending local send; the provisional slot now holds the
		//confirmed message.
	case c.timelines.ApplyInbound(msg):
	default:
		//Already present: the server emitted both an ack and a push event for
		//the same message.
		return
	}

	c.store.SetLastMessage(msg.ConversationID, msg.Summary())

	if fromSelf {
		return
	}
	if msg.ConversationID == activeID {
		//Visible right away, so acknowledge it; nobody increments unread for
		//the conversation the user is looking at.
		go func() {
			if err := c.transport.MarkMessageRead(msg.ID); err != nil {
				c.log.Debug().Err(err).Msg("markRead failed")
			}
		}()
		return
	}
	c.store.IncrementUnread(msg.ConversationID)
	sender := msg.Sender.Name
	if sender == "" {
		sender = "Someone"
	}
	c.notify.Notify("info", "New message from "+sender)
}

//reconcileEcho matches an inbound message to a pending local send. The primary
//match is the correlation token issued at send time; when the transport could
//not echo it, a bounded heuristic (same sender, same content, close in time)
//catches most stragglers. The heuristic trades precision for recall and is a
//fallback, not a guarantee.
func (c *Core) reconcileEcho(msg chat.Message, fromSelf bool) bool {
	if msg.CorrelationToken != "" {
		provisional := chat.MessageID(msg.CorrelationToken)
		if provisional.Provisional() && c.timelines.Reconcile(msg.ConversationID, provisional, msg) {
			return true
		}
	}
	if !fromSelf {
		return false
	}
	for _, m := range c.timelines.Messages(msg.ConversationID) {
		if m.Status != chat.StatusSending || m.Content != msg.Content {
			continue
		}
		gap := msg.CreatedAt.Sub(m.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= sendEchoWindow {
			return c.timelines.Reconcile(msg.ConversationID, m.ID, msg)
		}
	}
	return false
}

//handleTyping sets or clears a typing indicator. The local user's own signal
//is never displayed back to them.
func (c *Core) handleTyping(ev chat.TypingEvent) {
	c.mu.Lock()
	self := c.self.ID
	c.mu.Unlock()
	if ev.UserID == self {
		return
	}
	if ev.IsTyping {
		c.tracker.SetTyping(ev.ConversationID, ev.UserID, ev.UserName)
	} else {
		c.tracker.ClearTyping(ev.ConversationID, ev.UserID)
	}
}

//handleRead applies a read receipt. Ids we no longer hold are expected and
//ignored.
func (c *Core) handleRead(ev chat.ReadEvent) {
	c.timelines.ApplyReadReceipt(ev.ConversationID, ev.MessageIDs)
	c.mu.Lock()
	isActive := c.active != nil && c.active.ID == ev.ConversationID
	c.mu.Unlock()
	if isActive {
		c.store.ClearUnread(ev.ConversationID)
	}
}

func (c *Core) handlePresence(ev chat.PresenceEvent) {
	c.tracker.SetPresence(ev.UserID, ev.Online())
}

//handleTransportError surfaces a transport advisory without tearing anything
//down.
func (c *Core) handleTransportError(ev chat.ErrorEvent) {
	c.log.Warn().Str("message", ev.Message).Msg("Messaging service error")
	c.setError(ev.Message)
}
