/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/storage"
	"github.com/aether-im/aether/storage/model"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/xmpp"
	"github.com/pkg/errors"
)

func setupTest(t *testing.T) {
	host.Initialize([]host.Config{{Name: "aether.im"}})
	storage.Initialize(&storage.Config{Type: storage.Memory})
	_ = storage.Instance().InsertOrUpdateUser(&model.User{Username: "amara", Password: "1234"})
	t.Cleanup(func() {
		storage.Shutdown()
		host.Shutdown()
	})
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
		c.wr.Close()
		c.rd.Close()
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
			return
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
	mu              sync.Mutex
	stanzas         []xmpp.Stanza
	componentDomain string
}

func (r *fakeStanzaRouter) Route(stanza xmpp.Stanza, sender router.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stanzas = append(r.stanzas, stanza)
}

func (r *fakeStanzaRouter) HasComponentRoute(domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.componentDomain) > 0 && domain == r.componentDomain
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

type fakeS2SOut struct {
	mu    sync.Mutex
	elems []xmpp.XElement
}

func (f *fakeS2SOut) ID() string           { return "fake:s2s:out" }
func (f *fakeS2SOut) Disconnect(err error) {}

func (f *fakeS2SOut) SendElement(elem xmpp.XElement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elems = append(f.elems, elem)
}

func (f *fakeS2SOut) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.elems)
}

type fakeOutProvider struct {
	out *fakeS2SOut
}

func (p *fakeOutProvider) GetOut(localDomain, remoteDomain string) stream.S2SOut {
	return p.out
}

type fakeOfflineDeliverer struct {
	mu        sync.Mutex
	usernames []string
}

func (d *fakeOfflineDeliverer) DeliverOfflineMessages(to router.Deliverable, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usernames = append(d.usernames, username)
	return nil
}

func (d *fakeOfflineDeliverer) deliveredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.usernames)
}
