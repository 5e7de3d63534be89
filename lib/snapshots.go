package lib

import (
	"context"
	"time"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//Read-only snapshots for the view layer. Every accessor returns a copy;
//mutating a snapshot cannot perturb the core's state.

//Conversations returns the conversation list, most recently active first.
func (c *Core) Conversations() []chat.Conversation {
	return c.store.List()
}

//ActiveConversation returns a copy of the active conversation, or nil.
func (c *Core) ActiveConversation() *chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	if conv, ok := c.store.Get(c.active.ID); ok {
		return &conv
	}
	picked := *c.active
	return &picked
}

//Messages returns the active conversation's timeline, oldest first.
func (c *Core) Messages() []chat.Message {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return nil
	}
	return c.timelines.Messages(active.ID)
}

//MessagesFor returns any conversation's timeline, oldest first.
func (c *Core) MessagesFor(convID chat.ConversationID) []chat.Message {
	return c.timelines.Messages(convID)
}

//TypingUsers returns who is typing in the conversation right now, keyed by
//user id with their display label.
func (c *Core) TypingUsers(convID chat.ConversationID) map[chat.UserID]string {
	return c.tracker.TypingUsers(convID, time.Now())
}

//OnlineUsers returns every user currently known to be online.
func (c *Core) OnlineUsers() map[chat.UserID]bool {
	return c.tracker.OnlineUsers()
}

//Online reports a single user's presence.
func (c *Core) Online(userID chat.UserID) bool {
	return c.tracker.Online(userID)
}

//TotalUnread is the app-wide unread badge count.
func (c *Core) TotalUnread() int {
	return c.store.TotalUnread()
}

//Loading reports whether a history fetch is in flight.
func (c *Core) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

//Err returns the last component-scoped error message, or "".
func (c *Core) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

//RunTypingSweeper evicts expired typing indicators on a steady interval until
//ctx is cancelled. Optional: reads are lazily filtered either way.
func (c *Core) RunTypingSweeper(ctx context.Context, interval time.Duration) {
	c.tracker.RunSweeper(ctx, interval)
}
