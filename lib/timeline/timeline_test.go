package timeline

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

const conv = chat.ConversationID("c1")

func inbound(id string, at time.Time) chat.Message {
	return chat.Message{
		ID:             chat.MessageID(id),
		ConversationID: conv,
		Sender:         chat.User{ID: "them", Name: "Them"},
		Content:        "msg " + id,
		CreatedAt:      at,
		Status:         chat.StatusSent,
	}
}

func TestApplyInboundDeduplicates(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC()
	require.True(t, e.ApplyInbound(inbound("m-1", base)))
	require.True(t, e.ApplyInbound(inbound("m-2", base.Add(time.Second))))
	//Server emitted both an ack and a push event for m-2.
	require.False(t, e.ApplyInbound(inbound("m-2", base.Add(time.Second))))
	require.False(t, e.ApplyInbound(inbound("m-1", base)))

	msgs := e.Messages(conv)
	require.Len(t, msgs, 2)
	seen := make(map[chat.MessageID]int)
	for _, m := range msgs {
		seen[m.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s appears %d times", id, n)
	}
}

func TestReconcilePreservesSlot(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		e.ApplyInbound(inbound(fmt.Sprintf("m-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	provisional := e.AppendOptimistic(conv, chat.User{ID: "me"}, "hello", nil)
	require.True(t, provisional.ID.Provisional())
	require.Equal(t, chat.StatusSending, provisional.Status)

	msgs := e.Messages(conv)
	require.Len(t, msgs, 4)
	require.Equal(t, provisional.ID, msgs[3].ID)

	confirmed := chat.Message{ID: "m-42", Sender: chat.User{ID: "me"}, Content: "hello", CreatedAt: time.Now().UTC()}
	require.True(t, e.Reconcile(conv, provisional.ID, confirmed))

	msgs = e.Messages(conv)
	require.Len(t, msgs, 4, "reconciliation must not change timeline length")
	assert.Equal(t, chat.MessageID("m-42"), msgs[3].ID, "reconciled message keeps its slot")
	assert.Equal(t, chat.StatusSent, msgs[3].Status)

	//A second reconcile for the same provisional id is a no-op.
	assert.False(t, e.Reconcile(conv, provisional.ID, confirmed))
}

func TestOrderingMonotonic(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC().Add(-time.Hour)
	//Out-of-order arrival, a duplicate, an equal-timestamp pair and an
	//optimistic append, in one sequence.
	e.ApplyInbound(inbound("m-3", base.Add(3*time.Minute)))
	e.ApplyInbound(inbound("m-1", base.Add(1*time.Minute)))
	e.ApplyInbound(inbound("m-4", base.Add(4*time.Minute)))
	e.ApplyInbound(inbound("m-2", base.Add(2*time.Minute)))
	e.ApplyInbound(inbound("m-2", base.Add(2*time.Minute)))
	e.ApplyInbound(inbound("m-2b", base.Add(2*time.Minute)))
	p := e.AppendOptimistic(conv, chat.User{ID: "me"}, "latest", nil)
	e.Reconcile(conv, p.ID, chat.Message{ID: "m-5", Sender: chat.User{ID: "me"}, Content: "latest"})

	msgs := e.Messages(conv)
	require.Len(t, msgs, 6)
	sorted := sort.SliceIsSorted(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	assert.True(t, sorted, "timeline must be ordered by createdAt")
	//Equal timestamps keep insertion order.
	assert.Equal(t, chat.MessageID("m-2"), msgs[1].ID)
	assert.Equal(t, chat.MessageID("m-2b"), msgs[2].ID)
	//The optimistic message used "now", so it sits last.
	assert.Equal(t, chat.MessageID("m-5"), msgs[5].ID)
}

func TestFailKeepsMessage(t *testing.T) {
	e := NewEngine()
	p := e.AppendOptimistic(conv, chat.User{ID: "me"}, "doomed", nil)
	e.Fail(conv, p.ID)
	msgs := e.Messages(conv)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.StatusFailed, msgs[0].Status)
	assert.Equal(t, "doomed", msgs[0].Content)
}

func TestReadReceipts(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC()
	e.ApplyInbound(inbound("m-1", base))
	e.ApplyInbound(inbound("m-2", base.Add(time.Second)))

	//Unknown ids are expected (evicted history) and must not error.
	e.ApplyReadReceipt(conv, []chat.MessageID{"m-1", "m-2", "m-gone"})
	for _, m := range e.Messages(conv) {
		assert.True(t, m.IsRead)
		assert.Equal(t, chat.StatusRead, m.Status)
	}

	//Receipts never regress a read message, and never touch failed sends.
	p := e.AppendOptimistic(conv, chat.User{ID: "me"}, "nope", nil)
	e.Fail(conv, p.ID)
	e.ApplyReadReceipt(conv, []chat.MessageID{p.ID})
	msgs := e.Messages(conv)
	assert.Equal(t, chat.StatusFailed, msgs[len(msgs)-1].Status)
}

func TestReplaceDiscardsProvisional(t *testing.T) {
	e := NewEngine()
	e.AppendOptimistic(conv, chat.User{ID: "me"}, "stale", nil)
	fresh := []chat.Message{inbound("m-1", time.Now().UTC())}
	e.Replace(conv, fresh)
	msgs := e.Messages(conv)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageID("m-1"), msgs[0].ID)
}

func TestDeleteAndLastMessage(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC()
	e.ApplyInbound(inbound("m-1", base))
	e.ApplyInbound(inbound("m-2", base.Add(time.Second)))

	last, ok := e.LastMessage(conv)
	require.True(t, ok)
	assert.Equal(t, chat.MessageID("m-2"), last.ID)

	require.True(t, e.Delete(conv, "m-2"))
	require.False(t, e.Delete(conv, "m-2"))
	last, ok = e.LastMessage(conv)
	require.True(t, ok)
	assert.Equal(t, chat.MessageID("m-1"), last.ID)

	require.True(t, e.Delete(conv, "m-1"))
	_, ok = e.LastMessage(conv)
	assert.False(t, ok)
}

func TestUnreadInbound(t *testing.T) {
	e := NewEngine()
	base := time.Now().UTC()
	mine := inbound("m-mine", base)
	mine.Sender = chat.User{ID: "me"}
	e.ApplyInbound(mine)
	e.ApplyInbound(inbound("m-1", base.Add(time.Second)))
	read := inbound("m-2", base.Add(2*time.Second))
	read.IsRead = true
	e.ApplyInbound(read)

	ids := e.UnreadInbound(conv, "me")
	assert.Equal(t, []chat.MessageID{"m-1"}, ids)
}
