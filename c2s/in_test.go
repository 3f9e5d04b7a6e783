/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/session"
	"github.com/aether-im/aether/transport"
	"github.com/aether-im/aether/xmpp"
	"github.com/stretchr/testify/require"
)

type testStreamDeps struct {
	router      *fakeStanzaRouter
	sessions    *session.Manager
	offline     *fakeOfflineDeliverer
	outProvider *fakeOutProvider
}

func tUtilTestDeps() *testStreamDeps {
	return &testStreamDeps{
		router:      &fakeStanzaRouter{},
		sessions:    session.NewManager(router.NewTable()),
		offline:     &fakeOfflineDeliverer{},
		outProvider: &fakeOutProvider{out: &fakeS2SOut{}},
	}
}

func tUtilStreamInit(t *testing.T, deps *testStreamDeps, conflict ResourceConflictPolicy) (*inStream, *fakeSocketConn) {
	conn := newFakeSocketConn()
	cfg := &streamConfig{
		transport:        transport.NewSocketTransport(conn, 0),
		connectTimeout:   time.Second * 5,
		maxStanzaSize:    32768,
		resourceConflict: conflict,
		sasl:             []string{"plain"},
	}
	stm := newInStream(nextStreamID("test"), cfg, deps.router, deps.sessions, deps.offline, deps.outProvider)
	return stm, conn
}

func tUtilStreamOpen(conn *fakeSocketConn) {
	conn.inboundWriteString(`
<?xml version="1.0"?>
<stream:stream xmlns="jabber:client"
 xmlns:stream="http://etherx.jabber.org/streams" to="aether.im" version="1.0">
`)
}

func tUtilStreamSecure(t *testing.T, conn *fakeSocketConn) {
	tUtilStreamOpen(conn)
	_ = conn.outboundRead() // stream open
	_ = conn.outboundRead() // unsecured features

	conn.inboundWriteString(`<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)
	elem := conn.outboundRead()
	require.Equal(t, "proceed", elem.Name())
}

func tUtilStreamAuthenticate(t *testing.T, conn *fakeSocketConn) {
	tUtilStreamOpen(conn)
	_ = conn.outboundRead() // stream open
	_ = conn.outboundRead() // secured features

	payload := base64.StdEncoding.EncodeToString([]byte("\x00amara\x001234"))
	conn.inboundWriteString(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">` + payload + `</auth>`)

	elem := conn.outboundRead()
	require.Equal(t, "success", elem.Name())
}

func tUtilStreamBind(t *testing.T, conn *fakeSocketConn, resource string) {
	tUtilStreamOpen(conn)
	_ = conn.outboundRead() // stream open
	_ = conn.outboundRead() // authenticated features

	conn.inboundWriteString(`
<iq id="bind-1" type="set">
  <bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>` + resource + `</resource></bind>
</iq>
`)
	elem := conn.outboundRead()
	require.Equal(t, "iq", elem.Name())
	require.Equal(t, xmpp.ResultType, elem.Type())
	bound := elem.Elements().ChildNamespace("bind", bindNamespace)
	require.NotNil(t, bound)
	require.Equal(t, "amara@aether.im/"+resource, bound.Elements().Child("jid").Text())
}

func tUtilStreamStartSession(t *testing.T, conn *fakeSocketConn) {
	conn.inboundWriteString(`
<iq id="session-1" type="set">
  <session xmlns="urn:ietf:params:xml:ns:xmpp-session"/>
</iq>
`)
	elem := conn.outboundRead()
	require.Equal(t, "iq", elem.Name())
	require.Equal(t, xmpp.ResultType, elem.Type())
}

func tUtilStreamEstablish(t *testing.T, deps *testStreamDeps, resource string) (*inStream, *fakeSocketConn) {
	stm, conn := tUtilStreamInit(t, deps, Reject)
	tUtilStreamSecure(t, conn)
	tUtilStreamAuthenticate(t, conn)
	tUtilStreamBind(t, conn, resource)
	tUtilStreamStartSession(t, conn)
	return stm, conn
}

func TestInStreamConnect(t *testing.T) {
	setupTest(t)

	stm, conn := tUtilStreamInit(t, tUtilTestDeps(), Reject)
	tUtilStreamOpen(conn)

	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())

	elem = conn.outboundRead()
	require.Equal(t, "stream:features", elem.Name())
	startTLS := elem.Elements().ChildNamespace("starttls", tlsNamespace)
	require.NotNil(t, startTLS)
	require.NotNil(t, startTLS.Elements().Child("required"))

	require.Equal(t, "aether.im", stm.Domain())
}

func TestInStreamStartTLS(t *testing.T) {
	setupTest(t)

	stm, conn := tUtilStreamInit(t, tUtilTestDeps(), Reject)
	tUtilStreamSecure(t, conn)
	require.True(t, waitFor(stm.IsSecured))

	// secured features offer SASL mechanisms
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	elem := conn.outboundRead()
	require.Equal(t, "stream:features", elem.Name())
	mechanisms := elem.Elements().ChildNamespace("mechanisms", saslNamespace)
	require.NotNil(t, mechanisms)
	require.Equal(t, "PLAIN", mechanisms.Elements().Child("mechanism").Text())
}

func TestInStreamAuthenticate(t *testing.T) {
	setupTest(t)

	stm, conn := tUtilStreamInit(t, tUtilTestDeps(), Reject)
	tUtilStreamSecure(t, conn)

	// wrong credentials...
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	_ = conn.outboundRead()

	payload := base64.StdEncoding.EncodeToString([]byte("\x00amara\x00wr0ng"))
	conn.inboundWriteString(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">` + payload + `</auth>`)
	elem := conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("not-authorized"))
	require.False(t, stm.IsAuthenticated())

	// unknown mechanism...
	conn.inboundWriteString(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="EXTERNAL"/>`)
	elem = conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("invalid-mechanism"))

	// valid credentials...
	payload = base64.StdEncoding.EncodeToString([]byte("\x00amara\x001234"))
	conn.inboundWriteString(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">` + payload + `</auth>`)
	elem = conn.outboundRead()
	require.Equal(t, "success", elem.Name())
	require.True(t, waitFor(stm.IsAuthenticated))
	require.Equal(t, "amara", stm.Username())
}

func TestInStreamBindAndSession(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	stm, conn := tUtilStreamInit(t, deps, Reject)
	tUtilStreamSecure(t, conn)
	tUtilStreamAuthenticate(t, conn)

	// authenticated features advertise bind and session
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	elem := conn.outboundRead()
	require.Equal(t, "stream:features", elem.Name())
	require.NotNil(t, elem.Elements().ChildNamespace("bind", bindNamespace))
	require.NotNil(t, elem.Elements().ChildNamespace("session", sessionNamespace))

	conn.inboundWriteString(`
<iq id="bind-1" type="set">
  <bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>balcony</resource></bind>
</iq>
`)
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())
	require.Equal(t, "balcony", stm.Resource())

	// session registered in the manager
	sess := deps.sessions.BestSession(stm.JID())
	require.NotNil(t, sess)
	require.Equal(t, session.Authenticated, sess.Status())

	tUtilStreamStartSession(t, conn)
	require.Equal(t, sessionStarted, stm.getState())
}

func TestInStreamResourceConflict(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	_, conn1 := tUtilStreamEstablish(t, deps, "balcony")
	_ = conn1

	// reject policy bounces a conflict error back
	stm2, conn2 := tUtilStreamInit(t, deps, Reject)
	tUtilStreamSecure(t, conn2)
	tUtilStreamAuthenticate(t, conn2)
	tUtilStreamOpen(conn2)
	_ = conn2.outboundRead()
	_ = conn2.outboundRead()

	conn2.inboundWriteString(`
<iq id="bind-2" type="set">
  <bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>balcony</resource></bind>
</iq>
`)
	elem := conn2.outboundRead()
	require.Equal(t, xmpp.ErrorType, elem.Type())
	require.Equal(t, 0, len(stm2.Resource()))
	require.Equal(t, int32(1), stm2.userSess.ConflictCount())
}

func TestInStreamResourceConflictReplace(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	stm1, conn1 := tUtilStreamEstablish(t, deps, "balcony")

	stm2, conn2 := tUtilStreamInit(t, deps, Replace)
	tUtilStreamSecure(t, conn2)
	tUtilStreamAuthenticate(t, conn2)
	tUtilStreamBind(t, conn2, "balcony")

	// previous stream connection has been terminated and its session
	// replaced by the new one
	require.True(t, conn1.waitClose())
	require.True(t, stm1.IsClosed())
	require.Equal(t, "balcony", stm2.Resource())
	require.Equal(t, stm2.userSess, deps.sessions.BestSession(stm2.JID()))
}

func TestInStreamResourceConflictOverride(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	_, _ = tUtilStreamEstablish(t, deps, "balcony")

	stm2, conn2 := tUtilStreamInit(t, deps, Override)
	tUtilStreamSecure(t, conn2)
	tUtilStreamAuthenticate(t, conn2)
	tUtilStreamOpen(conn2)
	_ = conn2.outboundRead()
	_ = conn2.outboundRead()

	conn2.inboundWriteString(`
<iq id="bind-2" type="set">
  <bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><resource>balcony</resource></bind>
</iq>
`)
	elem := conn2.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())

	// a server-generated resourcepart replaces the conflicting one
	require.NotEqual(t, "balcony", stm2.Resource())
	require.True(t, len(stm2.Resource()) > 0)
}

func TestInStreamRouteStanza(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	stm, conn := tUtilStreamEstablish(t, deps, "balcony")

	conn.inboundWriteString(`<message to="livia@aether.im"><body>Hi!</body></message>`)
	require.True(t, waitFor(func() bool { return deps.router.routedCount() == 1 }))

	msg, ok := deps.router.lastStanza().(*xmpp.Message)
	require.True(t, ok)
	require.Equal(t, "livia@aether.im", msg.ToJID().String())
	require.Equal(t, stm.JID().String(), msg.FromJID().String())
	require.Equal(t, int64(1), stm.userSess.ClientPacketCount())
}

func TestInStreamRouteComponentStanza(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	deps.router.componentDomain = "muc.aether.im"
	_, conn := tUtilStreamEstablish(t, deps, "balcony")

	// a component subdomain is served locally, never through s2s
	conn.inboundWriteString(`<message to="room@muc.aether.im"><body>Hi!</body></message>`)
	require.True(t, waitFor(func() bool { return deps.router.routedCount() == 1 }))
	require.Equal(t, 0, deps.outProvider.out.sentCount())

	msg, ok := deps.router.lastStanza().(*xmpp.Message)
	require.True(t, ok)
	require.Equal(t, "room@muc.aether.im", msg.ToJID().String())
}

func TestInStreamRouteRemoteStanza(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	_, conn := tUtilStreamEstablish(t, deps, "balcony")

	conn.inboundWriteString(`<message to="livia@jabber.org"><body>Hi!</body></message>`)
	require.True(t, waitFor(func() bool { return deps.outProvider.out.sentCount() == 1 }))
	require.Equal(t, 0, deps.router.routedCount())
}

func TestInStreamSelfPresence(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	stm, conn := tUtilStreamEstablish(t, deps, "balcony")

	conn.inboundWriteString(`<presence><priority>5</priority></presence>`)
	require.True(t, waitFor(func() bool { return stm.Presence() != nil }))
	require.Equal(t, int8(5), stm.Presence().Priority())

	// offline messages delivered on first available presence only
	require.True(t, waitFor(func() bool { return deps.offline.deliveredCount() == 1 }))

	conn.inboundWriteString(`<presence><priority>10</priority></presence>`)
	require.True(t, waitFor(func() bool { return stm.Presence().Priority() == 10 }))
	require.Equal(t, 1, deps.offline.deliveredCount())

	// manager follows priority changes
	sess := deps.sessions.BestSession(stm.JID().ToBareJID())
	require.NotNil(t, sess)
	require.Equal(t, int8(10), sess.Priority())
}

func TestInStreamDisconnect(t *testing.T) {
	setupTest(t)

	deps := tUtilTestDeps()
	stm, conn := tUtilStreamEstablish(t, deps, "balcony")

	stm.Disconnect(nil)
	require.True(t, conn.waitClose())
	require.True(t, stm.IsClosed())

	// session removed from the manager
	require.True(t, waitFor(func() bool {
		return deps.sessions.BestSession(stm.JID()) == nil
	}))
}
