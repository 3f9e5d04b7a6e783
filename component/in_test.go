/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/transport"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testStreamSecret = "a-secret-1"

func setupInTest(t *testing.T) {
	host.Initialize([]host.Config{{Name: "aether.im"}})
	t.Cleanup(host.Shutdown)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond * 5)
	}
	return false
}

var errFakeSockAlreadyClosed = errors.New("fakeSocketConn: already closed")

type fakeSockReaderWriter struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newFakeSockReaderWriter() *fakeSockReaderWriter {
	pr, pw := io.Pipe()
	return &fakeSockReaderWriter{r: pr, w: pw}
}

func (frw *fakeSockReaderWriter) Write(b []byte) (n int, err error) { return frw.w.Write(b) }
func (frw *fakeSockReaderWriter) Read(b []byte) (n int, err error)  { return frw.r.Read(b) }

func (frw *fakeSockReaderWriter) Close() error {
	frw.w.Close()
	frw.r.Close()
	return nil
}

type fakeSocketConn struct {
	rd      *fakeSockReaderWriter
	wr      *fakeSockReaderWriter
	wrCh    chan []byte
	closeCh chan struct{}
	closed  uint32
}

func newFakeSocketConn() *fakeSocketConn {
	fc := &fakeSocketConn{
		rd:      newFakeSockReaderWriter(),
		wr:      newFakeSockReaderWriter(),
		wrCh:    make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
	go fc.loop()
	return fc
}

func (c *fakeSocketConn) Read(b []byte) (n int, err error) {
	if atomic.LoadUint32(&c.closed) == 1 {
		return 0, errFakeSockAlreadyClosed
	}
	return c.rd.Read(b)
}

func (c *fakeSocketConn) Write(b []byte) (n int, err error) {
	if atomic.LoadUint32(&c.closed) == 1 {
		return 0, errFakeSockAlreadyClosed
	}
	wb := make([]byte, len(b))
	copy(wb, b)
	c.wrCh <- wb
	return len(wb), nil
}

func (c *fakeSocketConn) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCh)
		return nil
	}
	return errFakeSockAlreadyClosed
}

func (c *fakeSocketConn) LocalAddr() net.Addr                { return localAddr }
func (c *fakeSocketConn) RemoteAddr() net.Addr               { return remoteAddr }
func (c *fakeSocketConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeSocketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeSocketConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeSocketConn) ConnectionState() tls.ConnectionState {
	return tls.ConnectionState{}
}

func (c *fakeSocketConn) inboundWriteString(s string) (n int, err error) { return c.rd.Write([]byte(s)) }

func (c *fakeSocketConn) outboundRead() xmpp.XElement {
	var elem xmpp.XElement
	var err error
	p := xmpp.NewParser(c.wr, xmpp.SocketStream, 0)
	for err == nil {
		elem, err = p.ParseElement()
		if elem != nil {
			return elem
		}
	}
	return &xmpp.Element{}
}

func (c *fakeSocketConn) waitClose() bool {
	select {
	case <-c.closeCh:
		return true
	case <-time.After(time.Second * 5):
		return false // timed out
	}
}

func (c *fakeSocketConn) loop() {
	for {
		select {
		case b := <-c.wrCh:
			_, _ = c.wr.Write(b)
		case <-c.closeCh:
			// flush pending writes so outbound elements written right
			// before closing remain readable by the test
			for {
				select {
				case b := <-c.wrCh:
					_, _ = c.wr.Write(b)
				default:
					c.wr.Close()
					c.rd.Close()
					return
				}
			}
		}
	}
}

type fakeAddr int

var (
	localAddr  = fakeAddr(1)
	remoteAddr = fakeAddr(2)
)

func (a fakeAddr) Network() string { return "net" }
func (a fakeAddr) String() string  { return "str" }

type fakeStanzaRouter struct {
	mu      sync.Mutex
	stanzas []xmpp.Stanza
}

func (r *fakeStanzaRouter) Route(stanza xmpp.Stanza, sender router.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stanzas = append(r.stanzas, stanza)
}

func (r *fakeStanzaRouter) routedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stanzas)
}

func (r *fakeStanzaRouter) lastStanza() xmpp.Stanza {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stanzas) == 0 {
		return nil
	}
	return r.stanzas[len(r.stanzas)-1]
}

func tUtilInStreamInit(t *testing.T) (*inStream, *fakeSocketConn, *Components, *fakeStanzaRouter) {
	conn := newFakeSocketConn()
	cfg := &streamConfig{
		transport:      transport.NewSocketTransport(conn, 0),
		connectTimeout: time.Second * 5,
		maxStanzaSize:  32768,
		secret:         testStreamSecret,
	}
	comps := New(router.NewTable())
	stanzaRouter := &fakeStanzaRouter{}
	stm := newInStream(nextStreamID(), cfg, comps, stanzaRouter)
	return stm, conn, comps, stanzaRouter
}

func tUtilInStreamOpen(conn *fakeSocketConn, cHost string) {
	conn.inboundWriteString(`<stream:stream xmlns="jabber:component:accept"
 xmlns:stream="http://etherx.jabber.org/streams" to="` + cHost + `">`)
}

func tUtilInStreamHandshake(t *testing.T, conn *fakeSocketConn) {
	tUtilInStreamOpen(conn, "muc.aether.im")

	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())
	require.True(t, len(elem.ID()) > 0)

	h := sha1.New()
	_, _ = h.Write([]byte(elem.ID() + testStreamSecret))
	conn.inboundWriteString(`<handshake>` + hex.EncodeToString(h.Sum(nil)) + `</handshake>`)

	elem = conn.outboundRead()
	require.Equal(t, "handshake", elem.Name())
}

func TestInStreamHandshake(t *testing.T) {
	setupInTest(t)

	stm, conn, comps, _ := tUtilInStreamInit(t)
	tUtilInStreamHandshake(t, conn)

	require.True(t, stm.IsAuthenticated())
	require.Equal(t, "muc.aether.im", stm.Host())
	require.Equal(t, Component(stm), comps.Get("muc.aether.im"))
}

func TestInStreamBadSecret(t *testing.T) {
	setupInTest(t)

	_, conn, comps, _ := tUtilInStreamInit(t)
	tUtilInStreamOpen(conn, "muc.aether.im")
	_ = conn.outboundRead() // stream open

	conn.inboundWriteString(`<handshake>b4dd1g3st</handshake>`)

	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("not-authorized"))
	require.True(t, conn.waitClose())
	require.Nil(t, comps.Get("muc.aether.im"))
}

func TestInStreamServerDomainRejected(t *testing.T) {
	setupInTest(t)

	_, conn, _, _ := tUtilInStreamInit(t)
	tUtilInStreamOpen(conn, "aether.im") // a component may not bind a server domain

	elem := conn.outboundRead() // stream open
	require.Equal(t, "stream:stream", elem.Name())

	elem = conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("host-unknown"))
	require.True(t, conn.waitClose())
}

func TestInStreamRouteStanza(t *testing.T) {
	setupInTest(t)

	_, conn, _, stanzaRouter := tUtilInStreamInit(t)
	tUtilInStreamHandshake(t, conn)

	conn.inboundWriteString(`<message from="muc.aether.im" to="amara@aether.im"><body>room invite</body></message>`)

	require.True(t, waitFor(func() bool { return stanzaRouter.routedCount() == 1 }))
	msg := stanzaRouter.lastStanza()
	require.Equal(t, "muc.aether.im", msg.FromJID().Domain())
	require.Equal(t, "amara", msg.ToJID().Node())
}

func TestInStreamDeliverStanza(t *testing.T) {
	setupInTest(t)

	stm, conn, _, _ := tUtilInStreamInit(t)
	tUtilInStreamHandshake(t, conn)

	fromJID, _ := jid.NewWithString("amara@aether.im/balcony", true)
	toJID, _ := jid.NewWithString("room@muc.aether.im/nick", true)
	presence := xmpp.NewPresence(fromJID, toJID, xmpp.AvailableType)
	stm.ProcessStanza(presence)

	elem := conn.outboundRead()
	require.Equal(t, "presence", elem.Name())
	require.Equal(t, "room@muc.aether.im/nick", elem.To())
}

func TestInStreamDisconnectUnregisters(t *testing.T) {
	setupInTest(t)

	stm, conn, comps, _ := tUtilInStreamInit(t)
	tUtilInStreamHandshake(t, conn)
	require.NotNil(t, comps.Get("muc.aether.im"))

	stm.Disconnect(nil)
	require.True(t, conn.waitClose())
	require.Nil(t, comps.Get("muc.aether.im"))
}
