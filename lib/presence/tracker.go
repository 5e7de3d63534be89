//Package presence tracks ephemeral, self-expiring state: who is typing in
//which conversation, and who is online.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//DefaultQuietWindow is how long a typing indicator survives without a refresh.
//Missed "stopped typing" events heal themselves after this much silence.
const DefaultQuietWindow = 2 * time.Second

//DefaultSweepInterval is how often RunSweeper evicts expired indicators.
const DefaultSweepInterval = time.Second

type typingKey struct {
	conv chat.ConversationID
	user chat.UserID
}

type indicator struct {
	label  string
	expiry time.Time
}

//Record is a user's last known presence.
type Record struct {
	Online   bool
	LastSeen time.Time
}

//Tracker holds typing indicators and presence records. Expiry is a pure
//function of stored deadline vs current time: indicators are filtered lazily
//on read and evicted by SweepExpired, with no per-indicator timers.
type Tracker struct {
	mu          sync.RWMutex
	quietWindow time.Duration
	typing      map[typingKey]indicator
	online      map[chat.UserID]Record
}

//NewTracker constructs a Tracker. A non-positive quietWindow selects
//DefaultQuietWindow.
func NewTracker(quietWindow time.Duration) *Tracker {
	if quietWindow <= 0 {
		quietWindow = DefaultQuietWindow
	}
	return &Tracker{
		quietWindow: quietWindow,
		typing:      make(map[typingKey]indicator),
		online:      make(map[chat.UserID]Record),
	}
}

//SetTyping upserts a typing indicator with a freshly extended expiry.
func (t *Tracker) SetTyping(convID chat.ConversationID, userID chat.UserID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing[typingKey{convID, userID}] = indicator{label: label, expiry: time.Now().Add(t.quietWindow)}
}

//ClearTyping removes an indicator on an explicit stopped-typing event.
func (t *Tracker) ClearTyping(convID chat.ConversationID, userID chat.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, typingKey{convID, userID})
}

//TypingUsers returns the display labels of users typing in the conversation
//right now, skipping anything past its expiry.
func (t *Tracker) TypingUsers(convID chat.ConversationID, now time.Time) map[chat.UserID]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make(map[chat.UserID]string)
	for key, ind := range t.typing {
		if key.conv == convID && now.Before(ind.expiry) {
			users[key.user] = ind.label
		}
	}
	return users
}

//SweepExpired evicts every indicator whose expiry has passed.
func (t *Tracker) SweepExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, ind := range t.typing {
		if !now.Before(ind.expiry) {
			delete(t.typing, key)
		}
	}
}

//RunSweeper calls SweepExpired on a steady interval until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.SweepExpired(now)
		}
	}
}

//SetPresence records a user's online status. Last writer wins; presence is
//best-effort and no history is kept.
func (t *Tracker) SetPresence(userID chat.UserID, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = Record{Online: online, LastSeen: time.Now()}
}

//Online reports whether the user is currently known to be online.
func (t *Tracker) Online(userID chat.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID].Online
}

//OnlineUsers returns a snapshot of every user currently online.
func (t *Tracker) OnlineUsers() map[chat.UserID]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make(map[chat.UserID]bool)
	for id, rec := range t.online {
		if rec.Online {
			users[id] = true
		}
	}
	return users
}
