package node

import (
	"time"

	"github.com/google/uuid"

	"github.com/notepid/twilight_chat/internal/user"
)

// Conn is the client connection behind a node.
type Conn interface {
	// Notice pushes a system notice to the client.
	Notice(text string) error
	Close() error
}

// Node represents a single connected session.
type Node struct {
	ID        int
	ConnID    string
	Remote    string
	ConnectAt time.Time

	Participant user.Profile
	Scope       string

	Conn Conn
}

// NewNode creates a node for conn. ConnID is unique across restarts and is
// what the logs carry; ID is the slot number.
func NewNode(id int, conn Conn, remote string) *Node {
	return &Node{
		ID:        id,
		ConnID:    uuid.NewString(),
		Remote:    remote,
		ConnectAt: time.Now(),
		Conn:      conn,
	}
}

// Disconnect closes the node's connection.
func (n *Node) Disconnect() {
	if n.Conn != nil {
		n.Conn.Close()
	}
}
