package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
// A connection starts anonymous; the application binds a user id to it once
// the client has authenticated.
type Connection struct {
	ID         string    // connection ID (UUID)
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for epoll lookups
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time // last heartbeat received from the client
	writeMu    sync.Mutex // serializes writes to this connection
	userMu     sync.RWMutex
	userID     string // bound after successful auth, empty before
	processing int32  // atomic flag: 0 = idle, 1 = being read by handleConn
}

// BindUser associates an authenticated user with this connection. Binding is
// one-shot; later calls are ignored so a second auth message cannot steal the
// connection.
func (c *Connection) BindUser(userID string) bool {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// UserID returns the bound user id, or "" when the connection has not
// authenticated yet.
func (c *Connection) UserID() string {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	return c.userID
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both connection ID and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by connection ID, closes the underlying
// network connection, and removes it from both lookup maps. Returns true if
// the connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given connection ID, or nil if not
// found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// CountUsers returns the number of distinct authenticated users currently
// connected. Unauthenticated connections are not counted.
func (cm *ConnectionManager) CountUsers() int {
	users := make(map[string]struct{})
	for _, conn := range cm.All() {
		if id := conn.UserID(); id != "" {
			users[id] = struct{}{}
		}
	}
	return len(users)
}

// Broadcast sends a message to all connected clients. Errors on individual
// connections are silently ignored — failed connections will be cleaned up
// by the epoll event loop when the next read fails.
func (cm *ConnectionManager) Broadcast(msg []byte) {
	for _, conn := range cm.All() {
		_ = conn.WriteMessage(msg)
	}
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
