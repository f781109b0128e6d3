package realtime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-sync/domain/event"
)

func outbound(i int) event.Outbound {
	return event.Outbound{
		ClientMsgID: fmt.Sprintf("client-%d", i),
		RoomID:      "room-1",
		Content:     "payload",
	}
}

func Test_Queue_Preserves_Insertion_Order(t *testing.T) {
	req := require.New(t)
	queue := newSendQueue(10)

	for i := 0; i < 3; i++ {
		req.Nil(queue.Push(outbound(i)))
	}

	for i := 0; i < 3; i++ {
		out, ok := queue.Pop()
		req.True(ok)
		req.Equal(outbound(i).ClientMsgID, out.ClientMsgID)
	}
	_, ok := queue.Pop()
	req.False(ok)
}

func Test_Full_Queue_Evicts_Oldest(t *testing.T) {
	req := require.New(t)
	queue := newSendQueue(2)

	req.Nil(queue.Push(outbound(0)))
	req.Nil(queue.Push(outbound(1)))

	evicted := queue.Push(outbound(2))
	req.NotNil(evicted)
	req.Equal("client-0", evicted.ClientMsgID)
	req.Equal(2, queue.Len())

	out, _ := queue.Pop()
	req.Equal("client-1", out.ClientMsgID)
	out, _ = queue.Pop()
	req.Equal("client-2", out.ClientMsgID)
}

func Test_Requeued_Frame_Goes_First(t *testing.T) {
	req := require.New(t)
	queue := newSendQueue(2)

	_ = queue.Push(outbound(0))
	_ = queue.Push(outbound(1))
	failed, _ := queue.Pop()

	// A frame whose write failed must come back ahead of newer traffic,
	// even when the queue is nominally full again.
	_ = queue.Push(outbound(2))
	queue.PushFront(failed)

	out, _ := queue.Pop()
	req.Equal("client-0", out.ClientMsgID)
	req.Equal(2, queue.Len())
}

func Test_Push_Signals_The_Waiter(t *testing.T) {
	req := require.New(t)
	queue := newSendQueue(2)

	_ = queue.Push(outbound(0))
	select {
	case <-queue.Wait():
	default:
		req.Fail("expected a wakeup after push")
	}
}
