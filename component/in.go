/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/runqueue"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/transport"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	connecting uint32 = iota
	handshaking
	authenticated
	disconnected
)

var errConnClosed = errors.New("component: connection closed")

type stanzaRouter interface {
	Route(stanza xmpp.Stanza, sender router.Endpoint)
}

type streamConfig struct {
	transport      transport.Transport
	connectTimeout time.Duration
	maxStanzaSize  int
	secret         string
	onDisconnect   func(id string)
}

// inStream represents an external component stream accepted through
// the XEP-0114 listener. Once the handshake succeeds the stream
// registers itself as a component, binding its domain route.
type inStream struct {
	id     string
	cfg    *streamConfig
	comps  *Components
	router stanzaRouter

	state uint32
	sess  *stream.Codec

	mu sync.RWMutex
	jd *jid.JID

	connectTm *time.Timer

	runQueue *runqueue.RunQueue
}

func newInStream(id string, cfg *streamConfig, comps *Components, stanzaRouter stanzaRouter) *inStream {
	s := &inStream{
		id:       id,
		cfg:      cfg,
		comps:    comps,
		router:   stanzaRouter,
		runQueue: runqueue.New(id),
	}
	j, _ := jid.New("", defaultLocalDomain(), "", true)
	s.jd = j

	// schedule connect timeout
	if cfg.connectTimeout > 0 {
		s.connectTm = time.AfterFunc(cfg.connectTimeout, s.connTimeout)
	}
	s.startSession()

	go s.doRead() // start reading transport...
	return s
}

// ID returns the stream identifier.
func (s *inStream) ID() string {
	return s.id
}

// Host returns the component domain bound to the stream.
func (s *inStream) Host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jd.Domain()
}

// ProcessStanza delivers a routed stanza to the component.
func (s *inStream) ProcessStanza(stanza xmpp.Stanza) {
	_ = s.Deliver(stanza)
}

// Shutdown disconnects the component stream notifying a
// system-shutdown stream error.
func (s *inStream) Shutdown() {
	if s.getState() == disconnected {
		return
	}
	s.Disconnect(streamerror.ErrSystemShutdown)
}

// Disconnect closes the stream, notifying err to the remote entity.
func (s *inStream) Disconnect(err error) {
	if s.getState() == disconnected {
		return
	}
	waitCh := make(chan struct{})
	s.runQueue.Run(func() {
		s.disconnect(err)
		close(waitCh)
	})
	<-waitCh
}

// Deliver writes a stanza to the component connection. Satisfies the
// router endpoint interface.
func (s *inStream) Deliver(stanza xmpp.Stanza) error {
	if s.getState() == disconnected {
		return errConnClosed
	}
	s.runQueue.Run(func() { s.writeElement(stanza) })
	return nil
}

// IsAuthenticated returns whether the component handshake has been
// completed.
func (s *inStream) IsAuthenticated() bool {
	return s.getState() == authenticated
}

// Close disconnects the stream. It runs synchronously, so it must only
// be invoked from the stream run queue.
func (s *inStream) Close() error {
	s.disconnect(nil)
	return nil
}

func (s *inStream) connTimeout() {
	s.runQueue.Run(func() {
		s.disconnect(streamerror.ErrConnectionTimeout)
	})
}

// runs on its own goroutine
func (s *inStream) doRead() {
	elem, sErr := s.sess.Receive()
	if sErr == nil {
		s.runQueue.Run(func() {
			s.readElement(elem)
		})
	} else {
		s.runQueue.Run(func() {
			if s.getState() == disconnected {
				return // already disconnected...
			}
			s.handleSessionError(sErr)
		})
	}
}

func (s *inStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case connecting:
		s.handleConnecting(elem)
	case handshaking:
		s.handleHandshaking(elem)
	case authenticated:
		s.handleAuthenticated(elem)
	}
}

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	// cancel connection timeout timer
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	cHost := elem.To()
	if len(cHost) == 0 {
		s.disconnectWithStreamError(streamerror.ErrHostUnknown)
		return
	}
	// a component may not claim a server domain
	if host.IsLocalHost(cHost) {
		s.disconnectWithStreamError(streamerror.ErrHostUnknown)
		return
	}
	if s.comps.Get(cHost) != nil {
		s.disconnectWithStreamError(streamerror.ErrConflict)
		return
	}
	j, err := jid.New("", cHost, "", false)
	if err != nil {
		s.disconnectWithStreamError(streamerror.ErrHostUnknown)
		return
	}
	s.setJID(j)
	s.sess.SetJID(j)
	s.sess.SetRemoteDomain(cHost)

	_ = s.sess.Open()
	s.setState(handshaking)
}

func (s *inStream) handleHandshaking(elem xmpp.XElement) {
	if elem.Name() != "handshake" {
		s.disconnectWithStreamError(streamerror.ErrUnsupportedStanzaType)
		return
	}
	h := sha1.New()
	_, _ = h.Write([]byte(s.sess.StreamID() + s.cfg.secret))
	if elem.Text() != hex.EncodeToString(h.Sum(nil)) {
		s.disconnectWithStreamError(streamerror.ErrNotAuthorized)
		return
	}
	if err := s.comps.Register(s); err != nil {
		log.Error(err)
		s.disconnectWithStreamError(streamerror.ErrConflict)
		return
	}
	s.setState(authenticated)
	s.writeElement(xmpp.NewElementName("handshake"))
}

func (s *inStream) handleAuthenticated(elem xmpp.XElement) {
	stanza, ok := elem.(xmpp.Stanza)
	if !ok {
		s.disconnectWithStreamError(streamerror.ErrUnsupportedStanzaType)
		return
	}
	s.router.Route(stanza, s)
}

func (s *inStream) writeElement(elem xmpp.XElement) {
	s.sess.Send(elem)
}

func (s *inStream) readElement(elem xmpp.XElement) {
	if elem != nil {
		s.handleElement(elem)
	}
	if s.getState() != disconnected {
		go s.doRead()
	}
}

func (s *inStream) handleSessionError(sErr *stream.Error) {
	switch err := sErr.UnderlyingErr.(type) {
	case nil:
		s.disconnect(nil)
	case *streamerror.Error:
		s.disconnectWithStreamError(err)
	case *xmpp.StanzaError:
		s.writeStanzaErrorResponse(sErr.Element, err)
	default:
		log.Error(err)
		s.disconnectWithStreamError(streamerror.ErrUndefinedCondition)
	}
}

func (s *inStream) writeStanzaErrorResponse(elem xmpp.XElement, stanzaErr *xmpp.StanzaError) {
	resp := xmpp.NewElementFromElement(elem)
	resp.SetType(xmpp.ErrorType)
	resp.SetFrom(elem.To())
	resp.SetTo(elem.From())
	resp.AppendElement(stanzaErr.Element())
	s.writeElement(resp)
}

func (s *inStream) disconnect(err error) {
	if s.getState() == disconnected {
		return
	}
	switch err {
	case nil:
		s.disconnectClosingSession(false)
	default:
		if stmErr, ok := err.(*streamerror.Error); ok {
			s.disconnectWithStreamError(stmErr)
		} else {
			log.Error(err)
			s.disconnectClosingSession(false)
		}
	}
}

func (s *inStream) disconnectWithStreamError(err *streamerror.Error) {
	if s.getState() == connecting {
		_ = s.sess.Open()
	}
	s.writeElement(err.Element())
	s.disconnectClosingSession(true)
}

func (s *inStream) disconnectClosingSession(closeSession bool) {
	if closeSession {
		_ = s.sess.Close()
	}
	wasAuthenticated := s.getState() == authenticated
	s.setState(disconnected)

	if wasAuthenticated {
		s.comps.Unregister(s.Host())
	}
	if s.cfg.onDisconnect != nil {
		s.cfg.onDisconnect(s.id)
	}
	_ = s.cfg.transport.Close()

	s.runQueue.Stop(nil) // stop processing messages
}

func (s *inStream) setJID(j *jid.JID) {
	s.mu.Lock()
	s.jd = j
	s.mu.Unlock()
}

func (s *inStream) startSession() {
	s.sess = stream.NewCodec(s.id, &stream.CodecConfig{
		JID:           s.jd,
		Transport:     s.cfg.transport,
		MaxStanzaSize: s.cfg.maxStanzaSize,
		IsComponent:   true,
	})
	s.setState(connecting)
}

func (s *inStream) setState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

func (s *inStream) getState() uint32 {
	return atomic.LoadUint32(&s.state)
}

func defaultLocalDomain() string {
	if names := host.HostNames(); len(names) > 0 {
		return names[0]
	}
	return "localhost"
}

var inStreamCounter uint64

func nextStreamID() string {
	return fmt.Sprintf("comp:%d", atomic.AddUint64(&inStreamCounter, 1))
}
