//Package timeline maintains per-conversation message logs: ordered by
//(createdAt, insertion sequence), deduplicated by id, with an optimistic-send
//state machine for locally submitted messages.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

type entry struct {
	msg chat.Message
	seq uint64
}

type log struct {
	entries []entry
	index   map[chat.MessageID]int
}

//Engine holds the message timeline of every conversation seen this session.
type Engine struct {
	mu   sync.RWMutex
	logs map[chat.ConversationID]*log
	seq  uint64
}

//NewEngine constructs an empty timeline engine.
func NewEngine() *Engine {
	return &Engine{logs: make(map[chat.ConversationID]*log)}
}

func (e *Engine) logFor(convID chat.ConversationID) *log {
	l, ok := e.logs[convID]
	if !ok {
		l = &log{index: make(map[chat.MessageID]int)}
		e.logs[convID] = l
	}
	return l
}

//before reports whether a sorts strictly before b under the
//(createdAt, insertion sequence) ordering.
func before(a, b entry) bool {
	if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.seq < b.seq
	}
	return a.msg.CreatedAt.Before(b.msg.CreatedAt)
}

//Replace swaps the whole timeline of a conversation for msgs, as returned by a
//history fetch. Prior entries, including provisional ones, are discarded.
func (e *Engine) Replace(convID chat.ConversationID, msgs []chat.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := &log{index: make(map[chat.MessageID]int, len(msgs))}
	for _, m := range msgs {
		if _, dup := l.index[m.ID]; dup {
			continue
		}
		e.seq++
		l.entries = append(l.entries, entry{msg: m, seq: e.seq})
	}
	sort.SliceStable(l.entries, func(i, j int) bool { return before(l.entries[i], l.entries[j]) })
	for i := range l.entries {
		l.index[l.entries[i].msg.ID] = i
	}
	e.logs[convID] = l
}

//AppendOptimistic creates a sending-status provisional message from the local
//user and appends it. The client timestamp is "now", so it sorts after all
//loaded history regardless of server clock skew. The returned message is ready
//to render immediately.
func (e *Engine) AppendOptimistic(convID chat.ConversationID, sender chat.User, content string, attachments []chat.Attachment) chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := chat.NewProvisionalID()
	msg := chat.Message{
		ID:               id,
		ConversationID:   convID,
		Sender:           sender,
		Content:          content,
		Attachments:      attachments,
		CreatedAt:        time.Now().UTC(),
		Status:           chat.StatusSending,
		CorrelationToken: string(id),
	}
	l := e.logFor(convID)
	e.seq++
	l.index[msg.ID] = len(l.entries)
	l.entries = append(l.entries, entry{msg: msg, seq: e.seq})
	return msg
}

//Reconcile replaces the provisional message's contents with its confirmed
//counterpart, in place: the entry keeps its slot and sort key, so the timeline
//is never reshuffled by a confirmation. Returns false if the provisional id is
//not present (already reconciled, or its conversation was reloaded meanwhile).
func (e *Engine) Reconcile(convID chat.ConversationID, provisionalID chat.MessageID, confirmed chat.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[convID]
	if !ok {
		return false
	}
	i, ok := l.index[provisionalID]
	if !ok {
		return false
	}
	confirmed.ConversationID = convID
	confirmed.Status = chat.StatusSent
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = l.entries[i].msg.CreatedAt
	}
	delete(l.index, provisionalID)
	l.entries[i].msg = confirmed
	l.index[confirmed.ID] = i
	return true
}

//Fail marks a provisional message as failed without removing it, so the user
//can still see and retry it.
func (e *Engine) Fail(convID chat.ConversationID, provisionalID chat.MessageID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[convID]
	if !ok {
		return
	}
	if i, ok := l.index[provisionalID]; ok {
		l.entries[i].msg.Status = chat.StatusFailed
	}
}

//ApplyInbound inserts a message pushed by the transport, keeping the timeline
//sorted. A message whose id is already present is ignored: the server may emit
//both a direct ack and a push event for the same message. Returns false on
//such a duplicate.
func (e *Engine) ApplyInbound(msg chat.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.logFor(msg.ConversationID)
	if _, dup := l.index[msg.ID]; dup {
		return false
	}
	if msg.Status == "" || msg.Status == chat.StatusSending {
		msg.Status = chat.StatusSent
	}
	e.seq++
	in := entry{msg: msg, seq: e.seq}
	at := sort.Search(len(l.entries), func(i int) bool { return before(in, l.entries[i]) })
	l.entries = append(l.entries, entry{})
	copy(l.entries[at+1:], l.entries[at:])
	l.entries[at] = in
	for i := at; i < len(l.entries); i++ {
		l.index[l.entries[i].msg.ID] = i
	}
	return true
}

//ApplyReadReceipt marks the given messages as read. Status only moves forward
//(sent to delivered to read, never back). Unknown ids are expected, not an
//error: the timeline may hold only a page of history.
func (e *Engine) ApplyReadReceipt(convID chat.ConversationID, ids []chat.MessageID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[convID]
	if !ok {
		return
	}
	for _, id := range ids {
		i, ok := l.index[id]
		if !ok {
			continue
		}
		m := &l.entries[i].msg
		m.IsRead = true
		if chat.StatusRead.Rank() > m.Status.Rank() && m.Status != chat.StatusSending && m.Status != chat.StatusFailed {
			m.Status = chat.StatusRead
		}
	}
}

//Delete removes a message from the timeline. Returns true if it was present.
func (e *Engine) Delete(convID chat.ConversationID, id chat.MessageID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.logs[convID]
	if !ok {
		return false
	}
	at, ok := l.index[id]
	if !ok {
		return false
	}
	delete(l.index, id)
	l.entries = append(l.entries[:at], l.entries[at+1:]...)
	for i := at; i < len(l.entries); i++ {
		l.index[l.entries[i].msg.ID] = i
	}
	return true
}

//Messages returns a snapshot of the conversation's timeline in order.
func (e *Engine) Messages(convID chat.ConversationID) []chat.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.logs[convID]
	if !ok {
		return nil
	}
	msgs := make([]chat.Message, len(l.entries))
	for i := range l.entries {
		msgs[i] = l.entries[i].msg
	}
	return msgs
}

//LastMessage returns the newest message in the conversation, for recomputing
//the denormalized snapshot after a delete.
func (e *Engine) LastMessage(convID chat.ConversationID) (msg chat.Message, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, found := e.logs[convID]
	if !found || len(l.entries) == 0 {
		return
	}
	return l.entries[len(l.entries)-1].msg, true
}

//UnreadInbound returns the ids of messages not authored by self and not yet
//read, oldest first. Feeds the mark-read side effect after a history load, and
//the derived unread count for the active conversation.
func (e *Engine) UnreadInbound(convID chat.ConversationID, self chat.UserID) []chat.MessageID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.logs[convID]
	if !ok {
		return nil
	}
	var ids []chat.MessageID
	for i := range l.entries {
		m := &l.entries[i].msg
		if m.Sender.ID != self && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
