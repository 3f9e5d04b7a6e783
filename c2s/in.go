/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aether-im/aether/auth"
	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/runqueue"
	"github.com/aether-im/aether/session"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

const (
	connecting uint32 = iota
	connected
	authenticating
	authenticated
	sessionStarted
	disconnected
)

const (
	streamNamespace  = "http://etherx.jabber.org/streams"
	tlsNamespace     = "urn:ietf:params:xml:ns:xmpp-tls"
	saslNamespace    = "urn:ietf:params:xml:ns:xmpp-sasl"
	bindNamespace    = "urn:ietf:params:xml:ns:xmpp-bind"
	sessionNamespace = "urn:ietf:params:xml:ns:xmpp-session"
)

var errConnClosed = errors.New("c2s: connection closed")

type stanzaRouter interface {
	Route(stanza xmpp.Stanza, sender router.Endpoint)
	HasComponentRoute(domain string) bool
}

type outProvider interface {
	GetOut(localDomain, remoteDomain string) stream.S2SOut
}

type offlineDeliverer interface {
	DeliverOfflineMessages(to router.Deliverable, username string) error
}

type inStream struct {
	id          string
	cfg         *streamConfig
	router      stanzaRouter
	sessions    *session.Manager
	offline     offlineDeliverer
	outProvider outProvider

	state    uint32
	sess     *stream.Codec
	userSess *session.Session

	mu       sync.RWMutex
	jd       *jid.JID
	presence *xmpp.Presence

	secured          uint32
	authed           uint32
	offlineDelivered uint32

	connectTm      *time.Timer
	authenticators []auth.Authenticator
	activeAuth     auth.Authenticator

	closeMu        sync.Mutex
	closeListeners []func()

	runQueue *runqueue.RunQueue
}

func newInStream(id string, cfg *streamConfig, stanzaRouter stanzaRouter, sessions *session.Manager, offline offlineDeliverer, outProvider outProvider) *inStream {
	s := &inStream{
		id:          id,
		cfg:         cfg,
		router:      stanzaRouter,
		sessions:    sessions,
		offline:     offline,
		outProvider: outProvider,
		runQueue:    runqueue.New(id),
	}
	j, _ := jid.New("", defaultLocalDomain(), "", true)
	s.jd = j

	if cfg.secured {
		s.secured = 1
	}
	s.initializeAuthenticators()
	s.userSess = sessions.CreateSession(s)

	// schedule connect timeout
	if cfg.connectTimeout > 0 {
		s.connectTm = time.AfterFunc(cfg.connectTimeout, s.connTimeout)
	}
	s.restartSession()

	go s.doRead() // start reading transport...
	return s
}

// ID returns the stream identifier.
func (s *inStream) ID() string {
	return s.id
}

// Username returns current stream username.
func (s *inStream) Username() string {
	return s.JID().Node()
}

// Domain returns current stream domain.
func (s *inStream) Domain() string {
	return s.JID().Domain()
}

// Resource returns current stream resource.
func (s *inStream) Resource() string {
	return s.JID().Resource()
}

// JID returns current stream address.
func (s *inStream) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jd
}

// IsSecured returns whether the stream has been secured using TLS.
func (s *inStream) IsSecured() bool {
	return atomic.LoadUint32(&s.secured) == 1
}

// IsAuthenticated returns whether the stream has successfully
// completed SASL authentication.
func (s *inStream) IsAuthenticated() bool {
	return atomic.LoadUint32(&s.authed) == 1
}

// Presence returns the last self presence received on the stream, or
// nil if none has been received yet.
func (s *inStream) Presence() *xmpp.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

// SendElement writes an element to the client.
func (s *inStream) SendElement(elem xmpp.XElement) {
	if s.getState() == disconnected {
		return
	}
	s.runQueue.Run(func() { s.writeElement(elem) })
}

// Disconnect closes the stream, notifying err to the client.
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

// Deliver writes a stanza to the client. Satisfies the session
// connection and the router endpoint interfaces.
func (s *inStream) Deliver(stanza xmpp.Stanza) error {
	if s.getState() == disconnected {
		return errConnClosed
	}
	s.runQueue.Run(func() { s.writeElement(stanza) })
	return nil
}

// Close disconnects the stream. It runs synchronously, so it must only
// be invoked from the stream run queue.
func (s *inStream) Close() error {
	s.disconnect(nil)
	return nil
}

// IsClosed returns whether the underlying connection has been closed.
func (s *inStream) IsClosed() bool {
	return s.getState() == disconnected
}

// Validate verifies connection liveness.
func (s *inStream) Validate() bool {
	return !s.IsClosed()
}

// RegisterCloseListener registers a function to be notified when the
// connection is closed.
func (s *inStream) RegisterCloseListener(f func()) {
	s.closeMu.Lock()
	s.closeListeners = append(s.closeListeners, f)
	s.closeMu.Unlock()
}

func (s *inStream) initializeAuthenticators() {
	var authenticators []auth.Authenticator
	for _, a := range s.cfg.sasl {
		switch a {
		case "plain":
			authenticators = append(authenticators, auth.NewPlain(s))

		case "scram_sha_1":
			authenticators = append(authenticators, auth.NewScram(s, s.cfg.transport, auth.ScramSHA1, false))
			authenticators = append(authenticators, auth.NewScram(s, s.cfg.transport, auth.ScramSHA1, true))

		case "scram_sha_256":
			authenticators = append(authenticators, auth.NewScram(s, s.cfg.transport, auth.ScramSHA256, false))
			authenticators = append(authenticators, auth.NewScram(s, s.cfg.transport, auth.ScramSHA256, true))
		}
	}
	s.authenticators = authenticators
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
	case connected:
		s.handleConnected(elem)
	case authenticating:
		s.handleAuthenticating(elem)
	case authenticated:
		s.handleAuthenticated(elem)
	case sessionStarted:
		s.handleSessionStarted(elem)
	}
}

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	// cancel connection timeout timer
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	// assign stream domain if not set yet
	if to := elem.To(); len(to) > 0 && len(s.Username()) == 0 {
		j, _ := jid.New("", to, "", true)
		s.setJID(j)
	}
	_ = s.sess.Open()

	features := xmpp.NewElementName("stream:features")
	features.SetAttribute("xmlns:stream", streamNamespace)
	features.SetAttribute("version", "1.0")

	if !s.IsAuthenticated() {
		features.AppendElements(s.unauthenticatedFeatures())
		s.setState(connected)
	} else {
		features.AppendElements(s.authenticatedFeatures())
		s.setState(authenticated)
	}
	s.writeElement(features)
}

func (s *inStream) unauthenticatedFeatures() []xmpp.XElement {
	var features []xmpp.XElement

	if !s.IsSecured() {
		startTLS := xmpp.NewElementNamespace("starttls", tlsNamespace)
		startTLS.AppendElement(xmpp.NewElementName("required"))
		features = append(features, startTLS)
		return features
	}
	// offer SASL mechanisms over secured streams only
	if len(s.authenticators) > 0 {
		mechanisms := xmpp.NewElementNamespace("mechanisms", saslNamespace)
		for _, athr := range s.authenticators {
			mechanism := xmpp.NewElementName("mechanism")
			mechanism.SetText(athr.Mechanism())
			mechanisms.AppendElement(mechanism)
		}
		features = append(features, mechanisms)
	}
	return features
}

func (s *inStream) authenticatedFeatures() []xmpp.XElement {
	var features []xmpp.XElement

	bind := xmpp.NewElementNamespace("bind", bindNamespace)
	bind.AppendElement(xmpp.NewElementName("required"))
	features = append(features, bind)

	features = append(features, xmpp.NewElementNamespace("session", sessionNamespace))
	return features
}

func (s *inStream) handleConnected(elem xmpp.XElement) {
	switch elem.Name() {
	case "starttls":
		if len(elem.Namespace()) > 0 && elem.Namespace() != tlsNamespace {
			s.disconnectWithStreamError(streamerror.ErrInvalidNamespace)
			return
		}
		s.proceedStartTLS()

	case "auth":
		if elem.Namespace() != saslNamespace {
			s.disconnectWithStreamError(streamerror.ErrInvalidNamespace)
			return
		}
		s.startAuthentication(elem)

	case "iq":
		iq := elem.(*xmpp.IQ)
		if iq.Elements().ChildNamespace("query", "jabber:iq:auth") != nil {
			// don't allow non-SASL authentication
			s.writeElement(iq.ServiceUnavailableError())
			return
		}
		fallthrough

	case "message", "presence":
		s.disconnectWithStreamError(streamerror.ErrNotAuthorized)

	default:
		s.disconnectWithStreamError(streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *inStream) handleAuthenticating(elem xmpp.XElement) {
	if elem.Namespace() != saslNamespace {
		s.disconnectWithStreamError(streamerror.ErrInvalidNamespace)
		return
	}
	authr := s.activeAuth
	_ = s.continueAuthentication(elem, authr)
	if authr.Authenticated() {
		s.finishAuthentication(authr.Username())
	}
}

func (s *inStream) handleAuthenticated(elem xmpp.XElement) {
	switch elem.Name() {
	case "iq":
		iq := elem.(*xmpp.IQ)
		if len(s.Resource()) == 0 { // expecting bind
			s.bindResource(iq)
		} else { // expecting session
			s.startSession(iq)
		}

	default:
		s.disconnectWithStreamError(streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *inStream) handleSessionStarted(elem xmpp.XElement) {
	stanza, ok := elem.(xmpp.Stanza)
	if !ok {
		s.disconnectWithStreamError(streamerror.ErrUnsupportedStanzaType)
		return
	}
	s.userSess.IncClientPacketCount()

	// a domain is remote only when it is neither a server host nor a
	// locally registered component
	toJID := stanza.ToJID()
	if !host.IsLocalHost(toJID.Domain()) && !s.router.HasComponentRoute(toJID.Domain()) {
		s.routeRemote(stanza)
		return
	}
	if presence, ok := stanza.(*xmpp.Presence); ok && s.isSelfPresence(presence) {
		s.processSelfPresence(presence)
		return
	}
	s.router.Route(stanza, s)
}

func (s *inStream) proceedStartTLS() {
	if s.IsSecured() {
		s.disconnectWithStreamError(streamerror.ErrNotAuthorized)
		return
	}
	s.writeElement(xmpp.NewElementNamespace("proceed", tlsNamespace))

	s.cfg.transport.StartTLS(&tls.Config{
		ServerName:   s.Domain(),
		Certificates: host.Certificates(),
	}, false)
	atomic.StoreUint32(&s.secured, 1)

	log.Infof("secured c2s stream... (id: %s)", s.id)
	s.restartSession()
}

func (s *inStream) startAuthentication(elem xmpp.XElement) {
	mechanism := elem.Attributes().Get("mechanism")
	for _, authr := range s.authenticators {
		if authr.Mechanism() != mechanism {
			continue
		}
		if err := s.continueAuthentication(elem, authr); err != nil {
			return
		}
		if authr.Authenticated() {
			s.finishAuthentication(authr.Username())
		} else {
			s.activeAuth = authr
			s.setState(authenticating)
		}
		return
	}
	// ...mechanism not found...
	failure := xmpp.NewElementNamespace("failure", saslNamespace)
	failure.AppendElement(xmpp.NewElementName("invalid-mechanism"))
	s.writeElement(failure)
}

func (s *inStream) continueAuthentication(elem xmpp.XElement, authr auth.Authenticator) error {
	err := authr.ProcessElement(elem)
	if saslErr, ok := err.(*auth.SASLError); ok {
		s.failAuthentication(saslErr.Element())
	} else if err != nil {
		log.Error(err)
		s.failAuthentication(auth.ErrSASLTemporaryAuthFailure.(*auth.SASLError).Element())
	}
	return err
}

func (s *inStream) finishAuthentication(username string) {
	if s.activeAuth != nil {
		s.activeAuth.Reset()
		s.activeAuth = nil
	}
	j, _ := jid.New(username, s.Domain(), "", true)
	s.setJID(j)
	atomic.StoreUint32(&s.authed, 1)

	log.Infof("authenticated c2s stream... (username: %s, id: %s)", username, s.id)
	s.restartSession()
}

func (s *inStream) failAuthentication(elem xmpp.XElement) {
	failure := xmpp.NewElementNamespace("failure", saslNamespace)
	failure.AppendElement(elem)
	s.writeElement(failure)

	if s.activeAuth != nil {
		s.activeAuth.Reset()
		s.activeAuth = nil
	}
	s.setState(connected)
}

func (s *inStream) bindResource(iq *xmpp.IQ) {
	bind := iq.Elements().ChildNamespace("bind", bindNamespace)
	if bind == nil {
		s.writeElement(iq.NotAllowedError())
		return
	}
	var resource string
	if resourceElem := bind.Elements().Child("resource"); resourceElem != nil {
		resource = resourceElem.Text()
	} else {
		resource = uuid.New()
	}
	userJID, err := jid.New(s.Username(), s.Domain(), resource, false)
	if err != nil {
		s.writeElement(iq.BadRequestError())
		return
	}
	if s.sessions.IsActiveRoute(userJID) {
		s.userSess.IncConflictCount()

		switch s.cfg.resourceConflict {
		case Override:
			// override the resource with a server-generated resourcepart
			h := sha256.New()
			_, _ = h.Write([]byte(s.ID()))
			resource = hex.EncodeToString(h.Sum(nil))
			userJID, _ = jid.New(s.Username(), s.Domain(), resource, true)

		case Replace:
			// terminate the session of the currently connected client,
			// tearing it down on its own run queue
			if prev := s.sessions.BestSession(userJID); prev != nil && prev.Resource() == resource {
				prev.Connection().Disconnect(streamerror.ErrResourceConstraint)
			}

		default:
			// disallow resource binding attempt
			s.writeElement(iq.ConflictError())
			return
		}
	}
	s.setJID(userJID)
	s.sess.SetJID(userJID)

	s.userSess.SetJID(userJID)
	s.sessions.AddSession(s.userSess)

	log.Infof("bound resource... (%s/%s)", s.Username(), s.Resource())

	// ...notify successful binding
	result := xmpp.NewIQType(iq.ID(), xmpp.ResultType)

	bound := xmpp.NewElementNamespace("bind", bindNamespace)
	jidElem := xmpp.NewElementName("jid")
	jidElem.SetText(userJID.String())
	bound.AppendElement(jidElem)
	result.AppendElement(bound)

	s.writeElement(result)
}

func (s *inStream) startSession(iq *xmpp.IQ) {
	sess := iq.Elements().ChildNamespace("session", sessionNamespace)
	if sess == nil {
		s.writeElement(iq.NotAllowedError())
		return
	}
	s.writeElement(iq.ResultIQ())
	s.setState(sessionStarted)
}

func (s *inStream) isSelfPresence(presence *xmpp.Presence) bool {
	if !presence.IsAvailable() && !presence.IsUnavailable() {
		return false
	}
	toJID := presence.ToJID()
	return toJID.IsBare() && toJID.Node() == s.Username() && toJID.Domain() == s.Domain()
}

func (s *inStream) processSelfPresence(presence *xmpp.Presence) {
	s.mu.Lock()
	s.presence = presence
	s.mu.Unlock()

	s.sessions.ChangePriority(s.JID(), presence)

	// deliver offline messages on first available presence
	if s.offline != nil && presence.IsAvailable() && presence.Priority() >= 0 {
		if atomic.CompareAndSwapUint32(&s.offlineDelivered, 0, 1) {
			if err := s.offline.DeliverOfflineMessages(s.userSess, s.Username()); err != nil {
				log.Error(err)
			}
		}
	}
}

func (s *inStream) routeRemote(stanza xmpp.Stanza) {
	if s.outProvider == nil {
		log.Warnf("dropping remote stanza: s2s disabled... (id: %s)", s.id)
		return
	}
	out := s.outProvider.GetOut(s.Domain(), stanza.ToJID().Domain())
	out.SendElement(stanza)
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
	s.setState(disconnected)

	// notify close listeners, removing the session from the manager
	s.closeMu.Lock()
	listeners := s.closeListeners
	s.closeListeners = nil
	s.closeMu.Unlock()
	for _, f := range listeners {
		f()
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

func (s *inStream) restartSession() {
	s.sess = stream.NewCodec(s.id, &stream.CodecConfig{
		JID:           s.JID(),
		Transport:     s.cfg.transport,
		MaxStanzaSize: s.cfg.maxStanzaSize,
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

func nextStreamID(serverID string) string {
	return fmt.Sprintf("c2s:%s:%d", serverID, atomic.AddUint64(&inStreamCounter, 1))
}
