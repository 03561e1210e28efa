package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThread(t *testing.T, history ...Message) *MessageThread {
	t.Helper()
	return NewMessageThread("c1", self, john, history, nolog)
}

func TestOptimisticSendReconciles(t *testing.T) {
	th := newTestThread(t)

	provisional := th.AppendOptimistic("Hello")
	require.Equal(t, DeliveryPending, provisional.State)
	require.NotEmpty(t, provisional.ProvisionalID)
	require.Empty(t, provisional.ID)

	confirmed := msgFrom("m1", "c1", self, john, "Hello", provisional.CreatedAt.Add(200*time.Millisecond))
	th.Reconcile(confirmed)

	msgs := th.Messages()
	require.Len(t, msgs, 1, "confirmation must replace, not duplicate")
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, DeliveryConfirmed, msgs[0].State)
	assert.Equal(t, provisional.ProvisionalID, msgs[0].ProvisionalID)

	// the echo arriving again over the other transport is still one message
	th.Reconcile(confirmed)
	require.Len(t, th.Messages(), 1)
}

func TestReconcileKeepsPendingPosition(t *testing.T) {
	base := time.Now()
	th := newTestThread(t,
		msgFrom("m1", "c1", john, self, "question", base.Add(-time.Minute)),
	)
	provisional := th.AppendOptimistic("answer")

	// a remote message lands while our send is in flight
	th.Reconcile(msgFrom("m2", "c1", john, self, "followup", base.Add(time.Second)))

	confirmed := msgFrom("m3", "c1", self, john, "answer", provisional.CreatedAt)
	th.Reconcile(confirmed)

	msgs := th.Messages()
	require.Len(t, msgs, 3)
	// pending stayed where it was appended, between the two remote messages
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[1].ID)
	assert.Equal(t, "m2", msgs[2].ID)
}

func TestRemoteMessageInsertsChronologically(t *testing.T) {
	base := time.Now()
	th := newTestThread(t,
		msgFrom("m1", "c1", john, self, "first", base),
		msgFrom("m3", "c1", john, self, "third", base.Add(2*time.Second)),
	)

	th.Reconcile(msgFrom("m2", "c1", john, self, "late arrival", base.Add(time.Second)))

	var ids []string
	for _, m := range th.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
}

func TestMarkVisibleAsReadIsIdempotent(t *testing.T) {
	base := time.Now()
	th := newTestThread(t,
		msgFrom("m1", "c1", john, self, "unread one", base),
		msgFrom("m2", "c1", john, self, "unread two", base.Add(time.Second)),
		msgFrom("m3", "c1", self, john, "mine", base.Add(2*time.Second)),
	)

	flipped := th.MarkVisibleAsRead()
	assert.ElementsMatch(t, []string{"m1", "m2"}, flipped)
	for _, m := range th.Messages() {
		if m.Receiver.ID == self.ID {
			assert.True(t, m.IsRead)
			assert.NotNil(t, m.ReadAt)
		}
	}

	assert.Empty(t, th.MarkVisibleAsRead(), "second pass flips nothing")
}

func TestReadStateIsMonotonic(t *testing.T) {
	th := newTestThread(t, msgFrom("m1", "c1", self, john, "sent", time.Now()))

	readAt := time.Now()
	th.ApplyReadReceipt("m1", readAt)
	require.True(t, th.Messages()[0].IsRead)

	// a stale unread copy of the same message arrives afterwards
	th.Reconcile(msgFrom("m1", "c1", self, john, "sent", time.Now()))

	got := th.Messages()[0]
	assert.True(t, got.IsRead, "is_read never reverses")
	require.NotNil(t, got.ReadAt)
	assert.WithinDuration(t, readAt, *got.ReadAt, time.Second)
}

func TestApplyReadReceiptUnknownMessageIsNoop(t *testing.T) {
	th := newTestThread(t, msgFrom("m1", "c1", self, john, "sent", time.Now()))
	th.ApplyReadReceipt("m-unknown", time.Now())
	assert.False(t, th.Messages()[0].IsRead)
}

func TestFailedSendRetryCycle(t *testing.T) {
	th := newTestThread(t)
	provisional := th.AppendOptimistic("flaky")

	th.MarkFailed(provisional.ProvisionalID)
	m, ok := th.ByProvisionalID(provisional.ProvisionalID)
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, m.State)

	require.True(t, th.MarkPending(provisional.ProvisionalID))
	require.False(t, th.MarkPending(provisional.ProvisionalID), "only failed messages can flip back")

	confirmed := msgFrom("m1", "c1", self, john, "flaky", provisional.CreatedAt.Add(time.Second))
	th.Reconcile(confirmed)
	msgs := th.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, DeliveryConfirmed, msgs[0].State)
}

func TestHistoryIsSortedOnOpen(t *testing.T) {
	base := time.Now()
	th := newTestThread(t,
		msgFrom("m2", "c1", john, self, "b", base.Add(time.Second)),
		msgFrom("m1", "c1", john, self, "a", base),
	)
	msgs := th.Messages()
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, DeliveryConfirmed, msgs[0].State, "history defaults to confirmed")
}
