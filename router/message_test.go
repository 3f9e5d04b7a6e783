/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

type fakeSessions struct {
	routes map[string]Deliverable
	active map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		routes: make(map[string]Deliverable),
		active: make(map[string]bool),
	}
}

func (s *fakeSessions) BestRoute(j *jid.JID) Deliverable {
	return s.routes[j.ToBareJID().String()]
}

func (s *fakeSessions) IsActiveRoute(j *jid.JID) bool {
	return s.active[j.String()]
}

type fakeOfflineStore struct {
	messages []*xmpp.Message
	err      error
}

func (s *fakeOfflineStore) StoreOffline(message *xmpp.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, message)
	return nil
}

func testMessage(t *testing.T, from, to string) *xmpp.Message {
	t.Helper()
	m := xmpp.NewElementName("message")
	m.SetID("msg-1")
	m.SetType(xmpp.ChatType)
	m.AppendElement(xmpp.NewElementName("body").SetText("Hi there!"))

	message, err := xmpp.NewMessageFromElement(m, testJID(t, from), testJID(t, to))
	require.Nil(t, err)
	return message
}

func TestMessageRouterUnauthenticatedSender(t *testing.T) {
	r := NewMessageRouter(NewTable(), newFakeSessions(), &fakeOfflineStore{})
	sender := &fakeEndpoint{}

	r.Route(testMessage(t, "amara@aether.im/balcony", "livia@aether.im"), sender)

	require.Equal(t, 1, len(sender.stanzas))
	require.Equal(t, "not-authorized", errorReason(t, sender.stanzas[0]))
}

func TestMessageRouterDelivery(t *testing.T) {
	sessions := newFakeSessions()
	recipient := &fakeHandler{name: "garden"}
	sessions.routes["livia@aether.im"] = recipient

	offline := &fakeOfflineStore{}
	r := NewMessageRouter(NewTable(), sessions, offline)
	sender := &fakeEndpoint{authenticated: true}

	r.Route(testMessage(t, "amara@aether.im/balcony", "livia@aether.im"), sender)

	require.Equal(t, 1, len(recipient.stanzas))
	require.Equal(t, 0, len(offline.messages))
}

func TestMessageRouterComponentDelivery(t *testing.T) {
	tbl := NewTable()
	comp := &fakeHandler{name: "muc"}
	tbl.AddRoute(testJID(t, "muc.aether.im"), comp)

	offline := &fakeOfflineStore{}
	r := NewMessageRouter(tbl, newFakeSessions(), offline)
	sender := &fakeEndpoint{authenticated: true}

	// a component bound at domain level receives deeper addresses
	r.Route(testMessage(t, "amara@aether.im/balcony", "room@muc.aether.im"), sender)

	require.Equal(t, 1, len(comp.stanzas))
	require.Equal(t, 0, len(offline.messages))
}

func TestMessageRouterNeverBounces(t *testing.T) {
	offline := &fakeOfflineStore{}
	r := NewMessageRouter(NewTable(), newFakeSessions(), offline)
	sender := &fakeEndpoint{authenticated: true}

	r.Route(testMessage(t, "amara@aether.im/balcony", "livia@aether.im"), sender)

	// stored offline, sender sees nothing
	require.Equal(t, 1, len(offline.messages))
	require.Equal(t, 0, len(sender.stanzas))
	require.False(t, sender.closed)
}

func TestMessageRouterDeliveryFailureGoesOffline(t *testing.T) {
	sessions := newFakeSessions()
	sessions.routes["livia@aether.im"] = failingHandler{}

	offline := &fakeOfflineStore{}
	r := NewMessageRouter(NewTable(), sessions, offline)
	sender := &fakeEndpoint{authenticated: true}

	r.Route(testMessage(t, "amara@aether.im/balcony", "livia@aether.im"), sender)

	require.Equal(t, 1, len(offline.messages))
	require.Equal(t, 0, len(sender.stanzas))
}

func TestMessageRouterOfflineStoreFailureIsSwallowed(t *testing.T) {
	offline := &fakeOfflineStore{err: errors.New("storage failed")}
	r := NewMessageRouter(NewTable(), newFakeSessions(), offline)
	sender := &fakeEndpoint{authenticated: true}

	r.Route(testMessage(t, "amara@aether.im/balcony", "livia@aether.im"), sender)

	require.Equal(t, 0, len(sender.stanzas))
	require.False(t, sender.closed)
}
