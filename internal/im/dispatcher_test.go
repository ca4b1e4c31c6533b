package im

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Registry, *Dispatcher) {
	reg := NewRegistry(discardLogger())
	return reg, NewDispatcher(reg, discardLogger())
}

func TestDispatch_DirectMessage(t *testing.T) {
	reg, d := newTestDispatcher()
	user1 := NewNode(nil, 4)
	user2 := NewNode(nil, 4)
	reg.Register(1, user1)
	reg.Register(2, user2)

	raw := []byte(`{"userid":1,"cmd":10,"dstid":2,"content":"hi"}`)
	msg, err := JSONCodec{}.Decode(raw)
	require.NoError(t, err)

	res := d.Dispatch(msg, raw)
	assert.Equal(t, Result{Command: CmdSingleMsg, Delivered: 1}, res)

	p, ok := user2.Drain(10 * time.Millisecond)
	require.True(t, ok)
	got, err := JSONCodec{}.Decode(p)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)

	// destination 99 is not connected: nothing queued anywhere
	res = d.Dispatch(&Message{SenderID: 1, Command: CmdSingleMsg, DestID: 99}, []byte("{}"))
	assert.Equal(t, DropUnroutable, res.Reason)
	assert.Equal(t, 0, user1.Stats().Queued)
	assert.Equal(t, 0, user2.Stats().Queued)
}

func TestDispatch_DirectMessageQueueFull(t *testing.T) {
	reg, d := newTestDispatcher()
	target := NewNode(nil, 1)
	reg.Register(2, target)
	require.True(t, target.Enqueue([]byte("filler")))

	res := d.Dispatch(&Message{SenderID: 1, Command: CmdSingleMsg, DestID: 2}, []byte("x"))

	assert.Equal(t, DropQueueFull, res.Reason)
	assert.Equal(t, 0, res.Delivered)
}

func TestDispatch_GroupFanOut(t *testing.T) {
	reg, d := newTestDispatcher()
	nodes := map[int64]*Node{
		1: NewNode(nil, 4), // sender, member
		2: NewNode(nil, 1), // member with a full queue
		3: NewNode(nil, 4), // member
		4: NewNode(nil, 4), // not a member
	}
	for id, n := range nodes {
		reg.Register(id, n)
	}
	for _, id := range []int64{1, 2, 3} {
		reg.AddMembership(id, 77)
	}
	require.True(t, nodes[2].Enqueue([]byte("filler")))

	raw := []byte(`{"userid":1,"cmd":11,"dstid":77,"content":"room"}`)
	res := d.Dispatch(&Message{SenderID: 1, Command: CmdRoomMsg, DestID: 77}, raw)

	assert.Equal(t, Result{Command: CmdRoomMsg, Delivered: 2, Rejected: 1}, res)
	for _, id := range []int64{1, 3} {
		p, ok := nodes[id].Drain(10 * time.Millisecond)
		require.True(t, ok, "user %d", id)
		assert.Equal(t, raw, p)
	}
	assert.Equal(t, 0, nodes[4].Stats().Queued)
}

func TestDispatch_GroupWithoutConnectedMembers(t *testing.T) {
	reg, d := newTestDispatcher()
	reg.Register(1, NewNode(nil, 1))

	res := d.Dispatch(&Message{SenderID: 1, Command: CmdRoomMsg, DestID: 5}, []byte("x"))

	assert.Equal(t, DropUnroutable, res.Reason)
	assert.Equal(t, 0, res.Delivered)
}

func TestDispatch_HeartbeatProducesNoPayload(t *testing.T) {
	reg, d := newTestDispatcher()
	node := NewNode(nil, 4)
	reg.Register(1, node)
	before := node.LastSeen()
	time.Sleep(2 * time.Millisecond)

	res := d.Dispatch(&Message{SenderID: 1, Command: CmdHeart}, []byte(`{"userid":1,"cmd":0}`))

	assert.Equal(t, Result{Command: CmdHeart}, res)
	assert.Equal(t, 0, node.Stats().Queued)
	assert.True(t, node.LastSeen().After(before))
}

func TestDispatch_UnknownCommandDropped(t *testing.T) {
	reg, d := newTestDispatcher()
	node := NewNode(nil, 4)
	reg.Register(2, node)

	res := d.Dispatch(&Message{SenderID: 1, Command: Command(42), DestID: 2}, []byte("x"))

	assert.Equal(t, DropUnknownCommand, res.Reason)
	assert.Equal(t, 0, node.Stats().Queued)
}
