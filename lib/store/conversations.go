//Package store holds the canonical in-memory conversation table, ordered by
//recency of activity.
package store

import (
	"sync"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//Conversations is an ordered collection of conversations, most recently
//active first, with at most one entry per id.
type Conversations struct {
	mu    sync.RWMutex
	order []chat.ConversationID
	byID  map[chat.ConversationID]*chat.Conversation
}

//New constructs an empty conversation store.
func New() *Conversations {
	return &Conversations{byID: make(map[chat.ConversationID]*chat.Conversation)}
}

//Upsert inserts conv, or merges it field-wise into the existing entry with the
//same id: non-zero incoming fields overwrite, absent ones are kept. The stored
//unread count survives a merge unless setUnread is true. A merge that carries
//newer activity moves the conversation to its recency position in the same
//locked step, so a refresh catching up on missed messages reorders the list
//just as a live message event would.
func (s *Conversations) Upsert(conv chat.Conversation, setUnread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[conv.ID]
	if !ok {
		c := conv
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.LastActivity) {
			c.LastActivity = c.LastMessage.CreatedAt
		}
		s.byID[conv.ID] = &c
		s.insertByActivity(conv.ID)
		return
	}
	prior := existing.LastActivity
	if conv.Kind != "" {
		existing.Kind = conv.Kind
	}
	if len(conv.Participants) > 0 {
		existing.Participants = conv.Participants
	}
	if conv.LastMessage != nil {
		existing.LastMessage = conv.LastMessage
	}
	if !conv.LastActivity.IsZero() {
		existing.LastActivity = conv.LastActivity
	}
	if existing.LastMessage != nil && existing.LastMessage.CreatedAt.After(existing.LastActivity) {
		existing.LastActivity = existing.LastMessage.CreatedAt
	}
	if setUnread && conv.UnreadCount >= 0 {
		existing.UnreadCount = conv.UnreadCount
	}
	if existing.LastActivity.After(prior) {
		s.removeFromOrder(conv.ID)
		s.insertByActivity(conv.ID)
	}
}

//insertByActivity places id at the first position whose conversation has
//strictly older activity, so equal timestamps keep their arrival order.
//Callers hold s.mu.
func (s *Conversations) insertByActivity(id chat.ConversationID) {
	at := s.byID[id].LastActivity
	for i, cid := range s.order {
		if s.byID[cid].LastActivity.Before(at) {
			s.order = append(s.order, "")
			copy(s.order[i+1:], s.order[i:])
			s.order[i] = id
			return
		}
	}
	s.order = append(s.order, id)
}

//removeFromOrder drops id from the iteration order. Callers hold s.mu.
func (s *Conversations) removeFromOrder(id chat.ConversationID) {
	for i, cid := range s.order {
		if cid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

//ReorderToTop moves the conversation to the front of the iteration order.
//No-op for unknown ids.
func (s *Conversations) ReorderToTop(id chat.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cid := range s.order {
		if cid == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}

//SetLastMessage updates the denormalized last-message snapshot and activity
//time, and moves the conversation to the top in the same step so a reader
//never observes a stale ordering relative to the snapshot.
func (s *Conversations) SetLastMessage(id chat.ConversationID, last *chat.LastMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[id]
	if !ok {
		return
	}
	conv.LastMessage = last
	if last == nil {
		return
	}
	conv.LastActivity = last.CreatedAt
	for i, cid := range s.order {
		if cid == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}

//RecomputeLastMessage swaps the last-message snapshot without touching the
//iteration order. Used when a delete invalidates the snapshot; removing an old
//message is not new activity.
func (s *Conversations) RecomputeLastMessage(id chat.ConversationID, last *chat.LastMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.byID[id]; ok {
		conv.LastMessage = last
	}
}

//SetUnread sets the unread count, clamped at zero.
func (s *Conversations) SetUnread(id chat.ConversationID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.byID[id]; ok {
		if count < 0 {
			count = 0
		}
		conv.UnreadCount = count
	}
}

//IncrementUnread adds one to the unread count.
func (s *Conversations) IncrementUnread(id chat.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.byID[id]; ok {
		conv.UnreadCount++
	}
}

//ClearUnread zeroes the unread count. Idempotent.
func (s *Conversations) ClearUnread(id chat.ConversationID) {
	s.SetUnread(id, 0)
}

//Get returns a copy of the conversation, if present.
func (s *Conversations) Get(id chat.ConversationID) (conv chat.Conversation, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return
	}
	return *c, true
}

//List returns a snapshot of all conversations, most recently active first.
func (s *Conversations) List() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, *s.byID[id])
	}
	return list
}

//TotalUnread sums unread counts across all conversations, for the app-wide badge.
func (s *Conversations) TotalUnread() (total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.byID {
		total += conv.UnreadCount
	}
	return
}
