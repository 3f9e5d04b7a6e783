/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/runqueue"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

const (
	inConnecting uint32 = iota
	inConnected
	inAuthorizingDialbackKey
	inDisconnected
)

type stanzaRouter interface {
	Route(stanza xmpp.Stanza, sender router.Endpoint)
}

type dialbackVerifier interface {
	GetVerify(localDomain, remoteDomain string, dbVerify xmpp.XElement) (*outStream, error)
}

type inStream struct {
	id           string
	cfg          *streamConfig
	router       stanzaRouter
	verifier     dialbackVerifier
	state        uint32
	sess         *stream.Codec
	secured      uint32
	authed       uint32
	dbAuthorized uint32
	localDomain  string
	remoteDomain string
	connectTm    *time.Timer
	runQueue     *runqueue.RunQueue
}

func newInStream(cfg *streamConfig, stanzaRouter stanzaRouter, verifier dialbackVerifier) *inStream {
	id := nextInID()
	s := &inStream{
		id:          id,
		cfg:         cfg,
		router:      stanzaRouter,
		verifier:    verifier,
		localDomain: defaultLocalDomain(),
		runQueue:    runqueue.New(id),
	}
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

// SendElement writes an element to the remote peer.
func (s *inStream) SendElement(elem xmpp.XElement) {
	if s.getState() == inDisconnected {
		return
	}
	s.runQueue.Run(func() { s.writeElement(elem) })
}

// Disconnect closes the stream, notifying err to the remote peer.
func (s *inStream) Disconnect(err error) {
	if s.getState() == inDisconnected {
		return
	}
	waitCh := make(chan struct{})
	s.runQueue.Run(func() {
		s.disconnect(err)
		close(waitCh)
	})
	<-waitCh
}

// Deliver writes a stanza to the remote peer. Satisfies router endpoint
// interface, so the stream can act as the bounce target of its own
// routed stanzas.
func (s *inStream) Deliver(stanza xmpp.Stanza) error {
	s.SendElement(stanza)
	return nil
}

// IsAuthenticated returns whether the remote domain identity has been
// verified, either through SASL EXTERNAL or through dialback.
func (s *inStream) IsAuthenticated() bool {
	return atomic.LoadUint32(&s.authed) == 1 || atomic.LoadUint32(&s.dbAuthorized) == 1
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
			if s.getState() == inDisconnected {
				return // already disconnected...
			}
			s.handleSessionError(sErr)
		})
	}
}

func (s *inStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case inConnecting:
		s.handleConnecting(elem)
	case inConnected:
		s.handleConnected(elem)
	}
}

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	// cancel connection timeout timer
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	if to := elem.To(); len(to) > 0 {
		s.localDomain = to
	}
	if from := elem.From(); len(from) > 0 {
		s.setRemoteDomain(from)
	}
	s.setState(inConnected)

	_ = s.sess.Open()
	s.writeElement(s.streamFeatures())
}

func (s *inStream) streamFeatures() xmpp.XElement {
	features := xmpp.NewElementName("stream:features")
	features.SetAttribute("xmlns:stream", streamNamespace)
	features.SetAttribute("version", "1.0")

	if !s.isSecured() {
		startTLS := xmpp.NewElementNamespace("starttls", tlsNamespace)
		startTLS.AppendElement(xmpp.NewElementName("required"))
		features.AppendElement(startTLS)
		return features
	}
	if !s.IsAuthenticated() {
		mechanisms := xmpp.NewElementNamespace("mechanisms", saslNamespace)
		mechanism := xmpp.NewElementName("mechanism")
		mechanism.SetText("EXTERNAL")
		mechanisms.AppendElement(mechanism)
		features.AppendElement(mechanisms)
	}
	features.AppendElement(xmpp.NewElementNamespace("dialback", dialbackNamespace))
	return features
}

func (s *inStream) handleConnected(elem xmpp.XElement) {
	if !s.isSecured() {
		s.proceedStartTLS(elem)
		return
	}
	switch {
	case elem.Name() == "auth" && atomic.LoadUint32(&s.authed) == 0:
		s.startAuthentication(elem)

	case elem.Name() == "db:result" && atomic.LoadUint32(&s.dbAuthorized) == 0:
		s.authorizeDialbackKey(elem)

	case elem.Name() == "db:verify":
		s.verifyDialbackKey(elem)

	default:
		stanza, ok := elem.(xmpp.Stanza)
		if !ok {
			s.disconnect(streamerror.ErrUnsupportedStanzaType)
			return
		}
		if s.IsAuthenticated() {
			s.router.Route(stanza, s)
		}
	}
}

func (s *inStream) proceedStartTLS(elem xmpp.XElement) {
	if elem.Namespace() != tlsNamespace {
		s.disconnect(streamerror.ErrInvalidNamespace)
		return
	} else if elem.Name() != "starttls" {
		s.disconnect(streamerror.ErrNotAuthorized)
		return
	}
	s.writeElement(xmpp.NewElementNamespace("proceed", tlsNamespace))

	s.cfg.transport.StartTLS(&tls.Config{
		ServerName:   s.localDomain,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		Certificates: host.Certificates(),
	}, false)
	atomic.StoreUint32(&s.secured, 1)

	log.Infof("secured s2s in stream... (id: %s)", s.id)
	s.restartSession()
}

func (s *inStream) startAuthentication(elem xmpp.XElement) {
	if elem.Namespace() != saslNamespace {
		s.disconnect(streamerror.ErrInvalidNamespace)
		return
	}
	if elem.Attributes().Get("mechanism") != "EXTERNAL" {
		s.failAuthentication("invalid-mechanism", "")
		return
	}
	// validate initiating server certificate
	certs := s.cfg.transport.PeerCertificates()
	for _, cert := range certs {
		for _, dnsName := range cert.DNSNames {
			if dnsName == s.getRemoteDomain() {
				s.finishAuthentication()
				return
			}
		}
	}
	s.failAuthentication("bad-protocol", "failed to get peer certificate")
}

func (s *inStream) failAuthentication(reason, text string) {
	log.Infof("failed s2s in stream authentication: %s (id: %s)", reason, s.id)
	failure := xmpp.NewElementNamespace("failure", saslNamespace)
	failure.AppendElement(xmpp.NewElementName(reason))
	if len(text) > 0 {
		textEl := xmpp.NewElementName("text")
		textEl.SetText(text)
		failure.AppendElement(textEl)
	}
	s.writeElement(failure)
}

func (s *inStream) finishAuthentication() {
	log.Infof("authenticated s2s in stream... (domain: %s, id: %s)", s.getRemoteDomain(), s.id)
	atomic.StoreUint32(&s.authed, 1)
	s.writeElement(xmpp.NewElementNamespace("success", saslNamespace))
	s.restartSession()
}

func (s *inStream) authorizeDialbackKey(elem xmpp.XElement) {
	sender := elem.From()
	target := elem.To()
	if !host.IsLocalHost(target) {
		s.writeStanzaErrorResponse(elem, xmpp.ErrItemNotFound)
		return
	}
	if len(sender) > 0 {
		s.setRemoteDomain(sender)
	}
	log.Infof("authorizing dialback key: %s... (id: %s)", elem.Text(), s.id)

	dbVerify := xmpp.NewElementName("db:verify")
	dbVerify.SetID(s.sess.StreamID())
	dbVerify.SetFrom(target)
	dbVerify.SetTo(sender)
	dbVerify.SetText(elem.Text())

	s.setState(inAuthorizingDialbackKey)

	go func() {
		outStm, err := s.verifier.GetVerify(target, sender, dbVerify)
		if err != nil {
			log.Errorf("failed to obtain s2s dialback connection: %v", err)
			s.runQueue.Run(func() {
				s.writeStanzaErrorResponse(elem, xmpp.ErrRemoteServerTimeout)
				s.setState(inConnected)
			})
			return
		}
		select {
		case valid := <-outStm.verify():
			s.runQueue.Run(func() { s.handleDialbackResult(sender, target, valid) })
		case <-outStm.done():
			s.runQueue.Run(func() {
				s.writeStanzaErrorResponse(elem, xmpp.ErrRemoteServerTimeout)
				s.setState(inConnected)
			})
		}
		outStm.Disconnect(nil)
	}()
}

func (s *inStream) handleDialbackResult(sender, target string, valid bool) {
	res := xmpp.NewElementName("db:result")
	res.SetFrom(target)
	res.SetTo(sender)
	if valid {
		res.SetType("valid")
		atomic.StoreUint32(&s.dbAuthorized, 1)
		log.Infof("authorized dialback key... (domain: %s, id: %s)", sender, s.id)
	} else {
		res.SetType("invalid")
		log.Infof("failed dialback key authorization... (domain: %s, id: %s)", sender, s.id)
	}
	s.setState(inConnected)
	s.writeElement(res)
}

func (s *inStream) verifyDialbackKey(elem xmpp.XElement) {
	sender := elem.From()
	target := elem.To()
	if !host.IsLocalHost(target) {
		s.writeStanzaErrorResponse(elem, xmpp.ErrItemNotFound)
		return
	}
	streamID := elem.ID()

	res := xmpp.NewElementName("db:verify")
	res.SetFrom(target)
	res.SetTo(sender)
	res.SetID(streamID)

	expectedKey := s.cfg.keyGen.generate(sender, target, streamID)
	if expectedKey == elem.Text() {
		log.Infof("dialback key successfully verified... (id: %s)", s.id)
		res.SetType("valid")
	} else {
		log.Infof("failed dialback key verification... (id: %s)", s.id)
		res.SetType("invalid")
	}
	s.writeElement(res)
}

func (s *inStream) writeStanzaErrorResponse(elem xmpp.XElement, stanzaErr *xmpp.StanzaError) {
	resp := xmpp.NewElementFromElement(elem)
	resp.SetType(xmpp.ErrorType)
	resp.SetFrom(elem.To())
	resp.SetTo(elem.From())
	resp.AppendElement(stanzaErr.Element())
	s.writeElement(resp)
}

func (s *inStream) writeElement(elem xmpp.XElement) {
	s.sess.Send(elem)
}

func (s *inStream) readElement(elem xmpp.XElement) {
	if elem != nil {
		s.handleElement(elem)
	}
	if s.getState() != inDisconnected {
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

func (s *inStream) disconnect(err error) {
	if s.getState() == inDisconnected {
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
	if s.getState() == inConnecting {
		_ = s.sess.Open()
	}
	s.writeElement(err.Element())
	s.disconnectClosingSession(true)
}

func (s *inStream) disconnectClosingSession(closeSession bool) {
	if closeSession {
		_ = s.sess.Close()
	}
	if s.cfg.onInDisconnect != nil {
		s.cfg.onInDisconnect(s)
	}
	s.setState(inDisconnected)
	_ = s.cfg.transport.Close()

	s.runQueue.Stop(nil) // stop processing messages
}

func (s *inStream) restartSession() {
	j, _ := jid.New("", s.localDomain, "", true)
	s.sess = stream.NewCodec(s.id, &stream.CodecConfig{
		JID:           j,
		Transport:     s.cfg.transport,
		MaxStanzaSize: s.cfg.maxStanzaSize,
		RemoteDomain:  s.getRemoteDomain(),
		IsServer:      true,
	})
	s.setState(inConnecting)
}

func (s *inStream) setRemoteDomain(domain string) {
	s.remoteDomain = domain
	if s.sess != nil {
		s.sess.SetRemoteDomain(domain)
	}
}

func (s *inStream) getRemoteDomain() string {
	return s.remoteDomain
}

func (s *inStream) isSecured() bool {
	return atomic.LoadUint32(&s.secured) == 1
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

func nextInID() string {
	return fmt.Sprintf("s2s:in:%d", atomic.AddUint64(&inStreamCounter, 1))
}
