package im

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity is the outbound queue size used when none is configured.
const DefaultQueueCapacity = 50

// Node is the outbound channel of one connection: the transport handle, a bounded
// queue of raw payloads and the set of groups the user currently belongs to.
//
// The queue is drained only by the connection's writer loop. The group set is not
// synchronized on its own; it is read and written only under the Registry lock.
type Node struct {
	conn   Transport
	queue  chan []byte
	groups map[int64]struct{}

	retired    chan struct{}
	retireOnce sync.Once

	lastSeen atomic.Int64 // unix nanos

	accepted atomic.Int64
	rejected atomic.Int64
	drained  atomic.Int64
}

// NodeStats is a snapshot of a Node's queue counters.
type NodeStats struct {
	Queued   int
	Capacity int
	Accepted int64
	Rejected int64
	Drained  int64
}

// NewNode creates a Node owning conn with an outbound queue of the given capacity.
func NewNode(conn Transport, capacity int) *Node {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	n := &Node{
		conn:    conn,
		queue:   make(chan []byte, capacity),
		groups:  make(map[int64]struct{}),
		retired: make(chan struct{}),
	}
	n.Touch()
	return n
}

// Conn returns the transport owned by the node.
func (n *Node) Conn() Transport { return n.conn }

// Enqueue places payload on the outbound queue without blocking.
// It returns false when the queue is full or the node has been retired.
func (n *Node) Enqueue(payload []byte) bool {
	select {
	case <-n.retired:
		n.rejected.Add(1)
		return false
	default:
	}

	select {
	case n.queue <- payload:
		n.accepted.Add(1)
		return true
	default:
		n.rejected.Add(1)
		return false
	}
}

// Drain waits up to timeout for the next payload. It returns false on timeout or
// once the node is retired; neither is an error.
func (n *Node) Drain(timeout time.Duration) ([]byte, bool) {
	// Fast path keeps FIFO delivery from paying for a timer.
	select {
	case p := <-n.queue:
		n.drained.Add(1)
		return p, true
	case <-n.retired:
		return nil, false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-n.queue:
		n.drained.Add(1)
		return p, true
	case <-n.retired:
		return nil, false
	case <-timer.C:
		return nil, false
	}
}

// Close retires the node and closes its transport. Later enqueues are rejected and
// a blocked Drain returns immediately. Safe to call more than once.
func (n *Node) Close() error {
	var err error
	n.retireOnce.Do(func() {
		close(n.retired)
		if n.conn != nil {
			err = n.conn.Close()
		}
	})
	return err
}

// Retired reports whether Close has been called.
func (n *Node) Retired() bool {
	select {
	case <-n.retired:
		return true
	default:
		return false
	}
}

// Done is closed when the node is retired.
func (n *Node) Done() <-chan struct{} { return n.retired }

// Touch refreshes the liveness marker.
func (n *Node) Touch() {
	n.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last liveness refresh.
func (n *Node) LastSeen() time.Time {
	return time.Unix(0, n.lastSeen.Load())
}

// Stats returns the current queue counters.
func (n *Node) Stats() NodeStats {
	return NodeStats{
		Queued:   len(n.queue),
		Capacity: cap(n.queue),
		Accepted: n.accepted.Load(),
		Rejected: n.rejected.Load(),
		Drained:  n.drained.Load(),
	}
}

// Must be called with the Registry write lock held.
func (n *Node) addGroup(groupID int64) {
	n.groups[groupID] = struct{}{}
}

// Must be called with the Registry write lock held.
func (n *Node) removeGroup(groupID int64) bool {
	if _, ok := n.groups[groupID]; !ok {
		return false
	}
	delete(n.groups, groupID)
	return true
}

// Must be called with the Registry lock held.
func (n *Node) inGroup(groupID int64) bool {
	_, ok := n.groups[groupID]
	return ok
}
