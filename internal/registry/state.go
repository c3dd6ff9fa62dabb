// Package registry is the in-process, concurrent-safe mapping from socket handle to connection state — the
// primary source of truth for who is currently connected to this gateway instance.
package registry

import "sync"

// Socket is the minimal surface the registry and gateway core need from a live connection. Accepting this
// interface (rather than a concrete *websocket.Conn) keeps the registry and the heartbeat/verification
// loops free of any transport dependency; only the upgrade path knows about the concrete connection type.
type Socket interface {
	// Send writes a single text frame. It must be safe to call concurrently with Close and with other
	// Sends on the same socket: the gateway's broadcasts and background loops send from several goroutines.
	Send(data []byte) error
	// Close closes the socket with the given WebSocket close code and reason.
	Close(code int, reason string) error
	// IsOpen reports whether the socket is still in a state that can accept writes.
	IsOpen() bool
}

// ConnectionState is one registry entry per authenticated socket. The mutable fields are guarded by an
// internal mutex since they are read and written both by the owning connection's message loop and by the
// heartbeat/verification background loops.
type ConnectionState struct {
	Socket Socket
	UUID   string

	mu              sync.Mutex
	name            string
	accountType     string
	roles           []string
	connectedAt     int64
	lastSeen        int64
	lastKeepaliveAt int64
	isAlive         bool
	ip              *string
}

// NewConnectionState builds a registry entry for a freshly authenticated socket.
func NewConnectionState(socket Socket, uuid, name, accountType string, roles []string, ip *string, now int64) *ConnectionState {
	return &ConnectionState{
		Socket:          socket,
		UUID:            uuid,
		name:            name,
		accountType:     accountType,
		roles:           append([]string(nil), roles...),
		connectedAt:     now,
		lastSeen:        now,
		lastKeepaliveAt: now,
		isAlive:         true,
		ip:              ip,
	}
}

func (c *ConnectionState) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *ConnectionState) AccountType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountType
}

func (c *ConnectionState) Roles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.roles...)
}

func (c *ConnectionState) SetRoles(roles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = append([]string(nil), roles...)
}

func (c *ConnectionState) ConnectedAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

func (c *ConnectionState) LastSeen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// SetLastSeen advances last_seen. Per the data-model invariant last_seen never precedes connected_at, and
// callers only ever move it forward, so a lower value is ignored rather than rejected.
func (c *ConnectionState) SetLastSeen(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now > c.lastSeen {
		c.lastSeen = now
	}
}

func (c *ConnectionState) LastKeepaliveAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKeepaliveAt
}

func (c *ConnectionState) SetLastKeepaliveAt(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKeepaliveAt = now
}

func (c *ConnectionState) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAlive
}

func (c *ConnectionState) SetIsAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isAlive = alive
}

func (c *ConnectionState) IP() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip
}
