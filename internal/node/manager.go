package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notepid/twilight_chat/internal/metrics"
)

// Manager tracks all active sessions and enforces the session limit.
type Manager struct {
	mu       sync.RWMutex
	nodes    map[int]*Node
	reserved map[int]bool
	maxNodes int
}

// NewManager creates a new session manager.
func NewManager(maxNodes int) *Manager {
	return &Manager{
		nodes:    make(map[int]*Node),
		reserved: make(map[int]bool),
		maxNodes: maxNodes,
	}
}

// Acquire reserves the lowest free slot if capacity allows.
// Returns the slot ID and true, or 0 and false if full.
func (m *Manager) Acquire() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodes)+len(m.reserved) >= m.maxNodes {
		return 0, false
	}

	for id := 1; ; id++ {
		if _, used := m.nodes[id]; used || m.reserved[id] {
			continue
		}
		m.reserved[id] = true
		return id, true
	}
}

// Release frees a slot that was acquired but never added.
func (m *Manager) Release(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, id)
}

// Add registers a node with the manager.
func (m *Manager) Add(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, n.ID)
	m.nodes[n.ID] = n
	metrics.ActiveSessions.Set(float64(len(m.nodes)))
}

// Remove removes a node from the manager.
func (m *Manager) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, id)
	delete(m.nodes, id)
	metrics.ActiveSessions.Set(float64(len(m.nodes)))
}

// Get returns a node by ID, or nil if not found.
func (m *Manager) Get(id int) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[id]
}

// Count returns the number of active nodes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// List returns a snapshot of all active nodes ordered by slot.
func (m *Manager) List() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// NodeInfo holds summary information about a connected session.
type NodeInfo struct {
	ID        int       `json:"id"`
	ConnID    string    `json:"conn_id"`
	UserName  string    `json:"user_name"`
	Remote    string    `json:"remote"`
	Scope     string    `json:"scope"`
	ConnectAt time.Time `json:"connect_at"`
}

// ListInfo returns summary info for all active nodes.
func (m *Manager) ListInfo() []NodeInfo {
	nodes := m.List()
	info := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		name := n.Participant.DisplayName
		if name == "" {
			name = "(connecting)"
		}
		info = append(info, NodeInfo{
			ID:        n.ID,
			ConnID:    n.ConnID,
			UserName:  name,
			Remote:    n.Remote,
			Scope:     n.Scope,
			ConnectAt: n.ConnectAt,
		})
	}
	return info
}

// Broadcast sends a notice to all connected nodes.
func (m *Manager) Broadcast(msg string) {
	for _, n := range m.List() {
		if n.Conn != nil {
			n.Conn.Notice(msg)
		}
	}
}

// ErrNodeNotFound is returned by SendTo for an unknown or unconnected node.
var ErrNodeNotFound = errors.New("node not found")

// SendTo sends a notice to a specific node.
func (m *Manager) SendTo(nodeID int, msg string) error {
	n := m.Get(nodeID)
	if n == nil || n.Conn == nil {
		return fmt.Errorf("node %d: %w", nodeID, ErrNodeNotFound)
	}
	return n.Conn.Notice(msg)
}

// DisconnectAll closes every connection, for shutdown.
func (m *Manager) DisconnectAll() {
	for _, n := range m.List() {
		n.Disconnect()
	}
}
