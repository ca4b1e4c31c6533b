package im

import (
	"log/slog"
	"slices"
	"sync"
)

// Registry maps user ids to their live Node. There is at most one Node per user.
//
// Lookups and sends take the read lock and run in parallel with each other;
// register, unregister and membership changes take the write lock.
type Registry struct {
	nodes  map[int64]*Node
	mu     sync.RWMutex
	logger *slog.Logger
}

// FanOut summarizes one group delivery.
type FanOut struct {
	Targets   int // connected members of the group
	Delivered int
	Rejected  int // members whose queue was full or retired
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nodes:  make(map[int64]*Node),
		logger: logger,
	}
}

// Register maps userID to node and returns the Node it replaced, if any.
// The caller owns closing the previous Node.
func (r *Registry) Register(userID int64, node *Node) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.nodes[userID]
	r.nodes[userID] = node
	if prev != nil && prev != node {
		r.logger.Info("client_replaced", "user_id", userID)
		return prev
	}
	r.logger.Info("client_added", "user_id", userID)
	return nil
}

// Unregister removes the mapping for userID. Absent users are ignored.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[userID]; !ok {
		return
	}
	delete(r.nodes, userID)
	r.logger.Info("client_removed", "user_id", userID)
}

// Release removes the mapping for userID only while it still points at node.
// A connection that was replaced uses this so it cannot drop its successor.
func (r *Registry) Release(userID int64, node *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[userID] != node {
		return false
	}
	delete(r.nodes, userID)
	r.logger.Info("client_removed", "user_id", userID)
	return true
}

// Lookup returns the Node registered for userID.
func (r *Registry) Lookup(userID int64) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[userID]
	return node, ok
}

// AddMembership adds groupID to the user's membership set. It returns false when
// the user is not connected.
func (r *Registry) AddMembership(userID, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[userID]
	if !ok {
		return false
	}
	node.addGroup(groupID)
	return true
}

// RemoveMembership removes groupID from the user's membership set. It returns
// false when the user is not connected or was not a member.
func (r *Registry) RemoveMembership(userID, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[userID]
	if !ok {
		return false
	}
	return node.removeGroup(groupID)
}

// Groups returns the sorted group ids of a connected user, or nil.
func (r *Registry) Groups(userID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[userID]
	if !ok || len(node.groups) == 0 {
		return nil
	}
	groups := make([]int64, 0, len(node.groups))
	for g := range node.groups {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	return groups
}

// Send enqueues payload for userID. The lookup and the enqueue happen under the
// same read lock so the target cannot be replaced in between.
func (r *Registry) Send(userID int64, payload []byte) DropReason {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[userID]
	if !ok {
		return DropUnroutable
	}
	if !node.Enqueue(payload) {
		return DropQueueFull
	}
	return DropNone
}

// Broadcast enqueues payload on every connected member of groupID. A rejection on
// one member does not stop delivery to the others.
func (r *Registry) Broadcast(groupID int64, payload []byte) FanOut {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out FanOut
	for userID, node := range r.nodes {
		if !node.inGroup(groupID) {
			continue
		}
		out.Targets++
		if node.Enqueue(payload) {
			out.Delivered++
			continue
		}
		out.Rejected++
		r.logger.Debug("fanout_rejected",
			"group_id", groupID,
			"user_id", userID,
		)
	}
	return out
}

// Touch refreshes the liveness marker of a connected user.
func (r *Registry) Touch(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[userID]
	if ok {
		node.Touch()
	}
	return ok
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// CloseAll closes and removes every registered Node.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	nodes := r.nodes
	r.nodes = make(map[int64]*Node)
	r.mu.Unlock()

	// close outside the lock, transports may block briefly on a close handshake
	for userID, node := range nodes {
		if err := node.Close(); err != nil {
			r.logger.Warn("client_close_failed",
				"user_id", userID,
				"error", err.Error(),
			)
		}
		r.logger.Info("client_connection_closed", "user_id", userID)
	}
}
