/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package stream

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

// MockC2S represents a mocked c2s stream.
type MockC2S struct {
	id string

	mu              sync.RWMutex
	isSecured       bool
	isAuthenticated bool
	isDisconnected  bool
	jid             *jid.JID
	presence        *xmpp.Presence

	elemCh chan xmpp.XElement
	discCh chan error
}

// NewMockC2S returns a new mocked stream instance.
func NewMockC2S(id string, jid *jid.JID) *MockC2S {
	stm := &MockC2S{
		id:     id,
		elemCh: make(chan xmpp.XElement, 16),
		discCh: make(chan error, 1),
	}
	stm.SetJID(jid)
	return stm
}

// ID returns mocked stream identifier.
func (m *MockC2S) ID() string {
	return m.id
}

// Username returns current mocked stream username.
func (m *MockC2S) Username() string {
	return m.JID().Node()
}

// Domain returns current mocked stream domain.
func (m *MockC2S) Domain() string {
	return m.JID().Domain()
}

// Resource returns current mocked stream resource.
func (m *MockC2S) Resource() string {
	return m.JID().Resource()
}

// SetJID sets the mocked stream JID value.
func (m *MockC2S) SetJID(jid *jid.JID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jid = jid
}

// JID returns current user JID.
func (m *MockC2S) JID() *jid.JID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jid
}

// SetSecured sets whether or not the mocked stream has been secured.
func (m *MockC2S) SetSecured(secured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isSecured = secured
}

// IsSecured returns whether or not the mocked stream has been secured.
func (m *MockC2S) IsSecured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isSecured
}

// SetAuthenticated sets whether or not the mocked stream has been authenticated.
func (m *MockC2S) SetAuthenticated(authenticated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isAuthenticated = authenticated
}

// IsAuthenticated returns whether or not the mocked stream has successfully authenticated.
func (m *MockC2S) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isAuthenticated
}

// IsDisconnected returns whether or not the mocked stream has been disconnected.
func (m *MockC2S) IsDisconnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isDisconnected
}

// SetPresence sets the mocked stream last received presence element.
func (m *MockC2S) SetPresence(presence *xmpp.Presence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = presence
}

// Presence returns last sent presence element.
func (m *MockC2S) Presence() *xmpp.Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presence
}

// SendElement sends the given XML element.
func (m *MockC2S) SendElement(elem xmpp.XElement) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.isDisconnected {
		return
	}
	select {
	case m.elemCh <- elem:
	default:
	}
}

// Disconnect disconnects mocked stream.
func (m *MockC2S) Disconnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isDisconnected {
		return
	}
	m.isDisconnected = true
	m.discCh <- err
}

// ReceiveElement waits until a new XML element is sent to
// the mocked stream and returns it.
func (m *MockC2S) ReceiveElement() xmpp.XElement {
	select {
	case e := <-m.elemCh:
		return e
	case <-time.After(time.Second * 5):
		return &xmpp.Element{}
	}
}

// WaitDisconnection waits until the mocked stream disconnects.
func (m *MockC2S) WaitDisconnection() error {
	select {
	case err := <-m.discCh:
		return err
	case <-time.After(time.Second * 5):
		return errors.New("operation timed out")
	}
}
