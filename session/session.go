/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

// Connection represents a session's underlying stream connection.
type Connection interface {
	// Deliver writes a stanza to the connection.
	Deliver(stanza xmpp.Stanza) error

	// Close closes the connection.
	Close() error

	// Disconnect closes the connection notifying err to the peer. The
	// teardown runs on the connection's own processing queue.
	Disconnect(err error)

	// IsClosed returns whether or not the connection has been closed.
	IsClosed() bool

	// IsSecured returns whether or not the connection has been secured.
	IsSecured() bool

	// Validate verifies connection liveness. It may trigger connection
	// teardown, so it must never be invoked while holding session locks.
	Validate() bool

	// RegisterCloseListener registers a function to be notified
	// when the connection is closed.
	RegisterCloseListener(f func())
}

// Status represents a session lifecycle state.
type Status uint32

const (
	// Connecting represents a session whose stream negotiation
	// hasn't been completed yet.
	Connecting Status = iota

	// Authenticated represents an authenticated session.
	Authenticated

	// Closed represents a terminated session. This status is terminal.
	Closed
)

// Session represents the server-side state of a single client
// connection: its address, presence, activity times and packet
// counters.
type Session struct {
	id   string
	conn Connection

	mu         sync.RWMutex
	jid        *jid.JID
	status     Status
	presence   *xmpp.Presence
	created    time.Time
	lastActive time.Time

	clientPacketCount int64
	serverPacketCount int64
	conflictCount     int32
}

func newSession(id string, conn Connection) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		conn:       conn,
		status:     Connecting,
		created:    now,
		lastActive: now,
	}
}

// ID returns the session stream identifier.
func (s *Session) ID() string { return s.id }

// Connection returns the session's underlying connection.
func (s *Session) Connection() Connection { return s.conn }

// JID returns the session address.
func (s *Session) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jid
}

// SetJID sets the session address. Done once resource binding completes.
func (s *Session) SetJID(j *jid.JID) {
	s.mu.Lock()
	s.jid = j
	s.mu.Unlock()
}

// Username returns the session address node, or an empty string for
// anonymous sessions.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jid == nil {
		return ""
	}
	return s.jid.Node()
}

// Resource returns the session address resource.
func (s *Session) Resource() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jid == nil {
		return ""
	}
	return s.jid.Resource()
}

// Status returns the session lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus transitions the session lifecycle status. A closed session
// never transitions out of Closed.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	if s.status != Closed {
		s.status = status
	}
	s.mu.Unlock()
}

// Presence returns the last presence received for this session, or nil
// if none has been received yet.
func (s *Session) Presence() *xmpp.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

// SetPresence sets the session presence.
func (s *Session) SetPresence(presence *xmpp.Presence) {
	s.mu.Lock()
	s.presence = presence
	s.mu.Unlock()
}

// Priority returns the session presence priority, or zero when no
// presence has been received.
func (s *Session) Priority() int8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.presence == nil {
		return 0
	}
	return s.presence.Priority()
}

// CreationTime returns the session creation instant.
func (s *Session) CreationTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}

// LastActiveTime returns the instant of the last packet activity.
func (s *Session) LastActiveTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IncClientPacketCount accounts one packet received from the client.
func (s *Session) IncClientPacketCount() {
	atomic.AddInt64(&s.clientPacketCount, 1)
	s.touch()
}

// ClientPacketCount returns the number of packets received from the client.
func (s *Session) ClientPacketCount() int64 {
	return atomic.LoadInt64(&s.clientPacketCount)
}

// ServerPacketCount returns the number of packets delivered to the client.
func (s *Session) ServerPacketCount() int64 {
	return atomic.LoadInt64(&s.serverPacketCount)
}

// TotalPacketCount returns the sum of client and server packet counts.
func (s *Session) TotalPacketCount() int64 {
	return s.ClientPacketCount() + s.ServerPacketCount()
}

// IncConflictCount accounts one resource binding conflict.
func (s *Session) IncConflictCount() {
	atomic.AddInt32(&s.conflictCount, 1)
}

// ConflictCount returns the number of resource binding conflicts.
func (s *Session) ConflictCount() int32 {
	return atomic.LoadInt32(&s.conflictCount)
}

// Deliver writes a stanza to the session connection, accounting it as
// a server packet.
func (s *Session) Deliver(stanza xmpp.Stanza) error {
	if err := s.conn.Deliver(stanza); err != nil {
		return err
	}
	atomic.AddInt64(&s.serverPacketCount, 1)
	s.touch()
	return nil
}
