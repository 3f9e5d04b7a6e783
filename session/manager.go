/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package session

import (
	"sync"

	"github.com/pborman/uuid"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

// sessionMap groups the sessions of a single user, keeping its
// resources sorted by descending presence priority. The head of the
// priority list is the default session for bare-address delivery.
type sessionMap struct {
	resources    map[string]*Session
	priorityList []string
}

func newSessionMap() *sessionMap {
	return &sessionMap{resources: make(map[string]*Session)}
}

// insert adds or repositions a session. Insertion is a stable sort
// step: the session goes right before the first entry whose priority
// is lower than or equal to its own.
func (sm *sessionMap) insert(s *Session) {
	res := s.Resource()
	if _, ok := sm.resources[res]; ok {
		sm.removeFromList(res)
	}
	sm.resources[res] = s

	priority := s.Priority()
	pos := len(sm.priorityList)
	for i, r := range sm.priorityList {
		if sm.resources[r].Priority() <= priority {
			pos = i
			break
		}
	}
	sm.priorityList = append(sm.priorityList, "")
	copy(sm.priorityList[pos+1:], sm.priorityList[pos:])
	sm.priorityList[pos] = res
}

func (sm *sessionMap) remove(resource string) {
	delete(sm.resources, resource)
	sm.removeFromList(resource)
}

func (sm *sessionMap) removeFromList(resource string) {
	for i, r := range sm.priorityList {
		if r == resource {
			sm.priorityList = append(sm.priorityList[:i], sm.priorityList[i+1:]...)
			return
		}
	}
}

func (sm *sessionMap) defaultSession() *Session {
	if len(sm.priorityList) == 0 {
		return nil
	}
	return sm.resources[sm.priorityList[0]]
}

// Manager owns every live session, grouped by username plus a
// separate registry for anonymous sessions, and keeps the routing
// table in sync with session lifecycle.
//
// Lock ordering: session locks are always released before touching the
// routing table, never the reverse.
type Manager struct {
	table *router.Table

	mu    sync.RWMutex
	users map[string]*sessionMap

	anonMu    sync.RWMutex
	anonymous map[string]*Session
}

// NewManager returns a session manager bound to a routing table.
func NewManager(table *router.Table) *Manager {
	return &Manager{
		table:     table,
		users:     make(map[string]*sessionMap),
		anonymous: make(map[string]*Session),
	}
}

// CreateSession allocates a stream identifier and constructs a session
// in Connecting state. The session is removed when its connection
// closes.
func (m *Manager) CreateSession(conn Connection) *Session {
	s := newSession(uuid.New(), conn)
	conn.RegisterCloseListener(func() {
		m.RemoveSession(s)
	})
	return s
}

// AddSession moves a session into authenticated bookkeeping: inserts
// it into its user session map and registers its full-address route
// plus the bare-address route pointing at the user's current default
// session. Failures are logged, not propagated.
func (m *Manager) AddSession(s *Session) bool {
	j := s.JID()
	if j == nil || len(j.Resource()) == 0 {
		log.Errorf("session: cannot register session %s: no bound resource", s.ID())
		return false
	}
	s.SetStatus(Authenticated)

	if len(j.Node()) == 0 {
		m.anonMu.Lock()
		m.anonymous[j.Resource()] = s
		m.anonMu.Unlock()

		m.table.AddRoute(j, s)
		return true
	}
	m.mu.Lock()
	sm := m.users[j.Node()]
	if sm == nil {
		sm = newSessionMap()
		m.users[j.Node()] = sm
	}
	sm.insert(s)
	def := sm.defaultSession()
	m.mu.Unlock()

	m.table.AddRoute(j, s)
	m.table.AddRoute(j.ToBareJID(), def)
	return true
}

// ChangePriority updates a session presence, re-sorts the owning
// session map and refreshes the bare-address route so bare delivery
// follows the new default session.
func (m *Manager) ChangePriority(j *jid.JID, presence *xmpp.Presence) {
	if len(j.Node()) == 0 {
		m.anonMu.RLock()
		s := m.anonymous[j.Resource()]
		m.anonMu.RUnlock()
		if s != nil {
			s.SetPresence(presence)
		}
		return
	}
	m.mu.Lock()
	sm := m.users[j.Node()]
	if sm == nil {
		m.mu.Unlock()
		return
	}
	s := sm.resources[j.Resource()]
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.SetPresence(presence)
	sm.insert(s)
	def := sm.defaultSession()
	m.mu.Unlock()

	m.table.AddRoute(j.ToBareJID(), def)
}

// BestSession returns the most suitable session for an address: the
// exact resource session when present, the user's default session
// otherwise. Unknown users yield nil, not an error. Anonymous sessions
// are looked up by resource only.
func (m *Manager) BestSession(j *jid.JID) *Session {
	if len(j.Node()) == 0 {
		m.anonMu.RLock()
		defer m.anonMu.RUnlock()
		return m.anonymous[j.Resource()]
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm := m.users[j.Node()]
	if sm == nil {
		return nil
	}
	if len(j.Resource()) > 0 {
		if s := sm.resources[j.Resource()]; s != nil {
			return s
		}
	}
	return sm.defaultSession()
}

// BestRoute satisfies the stanza routers' session registry interface.
func (m *Manager) BestRoute(j *jid.JID) router.Deliverable {
	s := m.BestSession(j)
	if s == nil {
		return nil
	}
	return s
}

// IsActiveRoute returns whether or not an address maps to a live,
// validated session. Connection validation may trigger teardown, so
// it runs outside every lock.
func (m *Manager) IsActiveRoute(j *jid.JID) bool {
	s := m.exactSession(j)
	if s == nil {
		return false
	}
	conn := s.Connection()
	if conn.IsClosed() {
		return false
	}
	return conn.Validate()
}

// RemoveSession removes a session from the manager and the routing
// table, refreshing or removing the user's bare-address route.
// Removing a session twice is a no-op.
func (m *Manager) RemoveSession(s *Session) {
	defer s.SetStatus(Closed)

	j := s.JID()
	if j == nil {
		return
	}
	if len(j.Node()) == 0 {
		m.anonMu.Lock()
		if m.anonymous[j.Resource()] != s {
			m.anonMu.Unlock()
			return
		}
		delete(m.anonymous, j.Resource())
		m.anonMu.Unlock()

		m.table.RemoveRoute(j)
		return
	}
	m.mu.Lock()
	sm := m.users[j.Node()]
	if sm == nil || sm.resources[j.Resource()] != s {
		m.mu.Unlock()
		return
	}
	sm.remove(j.Resource())
	var def *Session
	if len(sm.resources) == 0 {
		delete(m.users, j.Node())
	} else {
		def = sm.defaultSession()
	}
	m.mu.Unlock()

	m.table.RemoveRoute(j)
	if def != nil {
		m.table.AddRoute(j.ToBareJID(), def)
	} else {
		m.table.RemoveRoute(j.ToBareJID())
	}
	m.notifyUnavailable(s, def)
}

// Broadcast delivers a stanza to every live session, named and
// anonymous. Delivery failures are swallowed.
func (m *Manager) Broadcast(stanza xmpp.Stanza) {
	m.mu.RLock()
	for _, sm := range m.users {
		for _, s := range sm.resources {
			_ = s.Deliver(stanza)
		}
	}
	m.mu.RUnlock()

	m.anonMu.RLock()
	for _, s := range m.anonymous {
		_ = s.Deliver(stanza)
	}
	m.anonMu.RUnlock()
}

// UserBroadcast delivers a stanza to every resource session of a user.
func (m *Manager) UserBroadcast(username string, stanza xmpp.Stanza) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm := m.users[username]
	if sm == nil {
		return
	}
	for _, s := range sm.resources {
		_ = s.Deliver(stanza)
	}
}

func (m *Manager) exactSession(j *jid.JID) *Session {
	if len(j.Node()) == 0 {
		m.anonMu.RLock()
		defer m.anonMu.RUnlock()
		return m.anonymous[j.Resource()]
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm := m.users[j.Node()]
	if sm == nil {
		return nil
	}
	return sm.resources[j.Resource()]
}

// notifyUnavailable sends a best-effort unavailable presence to the
// bare-address recipient once a resource goes away.
func (m *Manager) notifyUnavailable(s *Session, def *Session) {
	if def == nil {
		return
	}
	if p := s.Presence(); p == nil || !p.IsAvailable() {
		return
	}
	j := s.JID()
	presence := xmpp.NewPresence(j, j.ToBareJID(), xmpp.UnavailableType)
	_ = def.Deliver(presence)
}
