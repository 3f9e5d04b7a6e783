/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

type fakeComponent struct {
	host     string
	stanzas  []xmpp.Stanza
	shutdown bool
}

func (c *fakeComponent) Host() string { return c.host }

func (c *fakeComponent) ProcessStanza(stanza xmpp.Stanza) {
	c.stanzas = append(c.stanzas, stanza)
}

func (c *fakeComponent) Shutdown() { c.shutdown = true }

func TestComponentRegistration(t *testing.T) {
	tbl := router.NewTable()
	cs := New(tbl)

	muc := &fakeComponent{host: "muc.aether.im"}
	require.Nil(t, cs.Register(muc))
	require.Equal(t, muc, cs.Get("muc.aether.im"))
	require.Equal(t, 1, len(cs.GetAll()))

	// host conflict
	require.NotNil(t, cs.Register(&fakeComponent{host: "muc.aether.im"}))
}

func TestComponentReceivesDomainTraffic(t *testing.T) {
	tbl := router.NewTable()
	cs := New(tbl)

	muc := &fakeComponent{host: "muc.aether.im"}
	require.Nil(t, cs.Register(muc))

	// stanzas addressed below the component domain reach it
	roomJID, _ := jid.NewWithString("room@muc.aether.im/nick", true)
	fromJID, _ := jid.NewWithString("amara@aether.im/balcony", true)

	h, err := tbl.GetRoute(roomJID)
	require.Nil(t, err)

	presence := xmpp.NewPresence(fromJID, roomJID, xmpp.AvailableType)
	require.Nil(t, h.Deliver(presence))
	require.Equal(t, 1, len(muc.stanzas))
}

func TestComponentUnregister(t *testing.T) {
	tbl := router.NewTable()
	cs := New(tbl)

	muc := &fakeComponent{host: "muc.aether.im"}
	require.Nil(t, cs.Register(muc))

	cs.Unregister("muc.aether.im")
	require.True(t, muc.shutdown)
	require.Nil(t, cs.Get("muc.aether.im"))

	domainJID, _ := jid.NewWithString("muc.aether.im", true)
	_, err := tbl.GetRoute(domainJID)
	require.Equal(t, router.ErrNoSuchRoute, err)

	// unregistering twice is a no-op
	cs.Unregister("muc.aether.im")
}

func TestComponentShutdown(t *testing.T) {
	tbl := router.NewTable()
	cs := New(tbl)

	c1 := &fakeComponent{host: "muc.aether.im"}
	c2 := &fakeComponent{host: "upload.aether.im"}
	require.Nil(t, cs.Register(c1))
	require.Nil(t, cs.Register(c2))

	cs.Shutdown()
	require.True(t, c1.shutdown)
	require.True(t, c2.shutdown)
	require.Equal(t, 0, len(cs.GetAll()))
}
