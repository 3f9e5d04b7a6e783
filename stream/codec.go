/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package stream

import (
	stdxml "encoding/xml"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/transport"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

const (
	jabberClientNamespace    = "jabber:client"
	jabberServerNamespace    = "jabber:server"
	jabberComponentNamespace = "jabber:component:accept"
	streamNamespace          = "http://etherx.jabber.org/streams"
	dialbackNamespace        = "jabber:server:dialback"
)

type namespaceSettable interface {
	SetNamespace(ns string) *xmpp.Element
}

// Error represents a stream codec error.
type Error struct {
	// Element returns the original incoming element that generated
	// the codec error.
	Element xmpp.XElement

	// UnderlyingErr is the underlying codec error.
	UnderlyingErr error
}

// A CodecConfig structure is used to configure an XMPP stream codec.
type CodecConfig struct {
	// JID defines an initial codec JID.
	JID *jid.JID

	// Transport provides the underlying codec transport
	// that will be used to send and receive elements.
	Transport transport.Transport

	// MaxStanzaSize defines the maximum stanza size that
	// can be read from the codec transport.
	MaxStanzaSize int

	// RemoteDomain represents the remote receiving entity domain name.
	RemoteDomain string

	// IsServer defines whether or not this codec is established
	// by the server.
	IsServer bool

	// IsComponent defines whether or not this codec belongs to an
	// external component stream.
	IsComponent bool

	// IsInitiating defines whether or not this is an initiating
	// entity codec.
	IsInitiating bool
}

// Codec encodes and decodes an XMPP stream between two peers.
type Codec struct {
	id           string
	tr           transport.Transport
	pr           *xmpp.Parser
	isServer     bool
	isComponent  bool
	isInitiating bool
	opened       uint32
	started      uint32

	mu           sync.RWMutex
	streamID     string
	sJID         *jid.JID
	remoteDomain string
}

// NewCodec creates a new codec instance.
func NewCodec(id string, config *CodecConfig) *Codec {
	c := &Codec{
		id:           id,
		tr:           config.Transport,
		pr:           xmpp.NewParser(config.Transport, xmpp.SocketStream, config.MaxStanzaSize),
		remoteDomain: config.RemoteDomain,
		isServer:     config.IsServer,
		isComponent:  config.IsComponent,
		isInitiating: config.IsInitiating,
		sJID:         config.JID,
	}
	if !c.isInitiating {
		c.streamID = uuid.New()
	}
	return c
}

// StreamID returns codec stream identifier.
func (c *Codec) StreamID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamID
}

// SetJID updates current codec JID.
func (c *Codec) SetJID(codecJID *jid.JID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sJID = codecJID
}

// SetRemoteDomain sets current codec remote domain.
func (c *Codec) SetRemoteDomain(remoteDomain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDomain = remoteDomain
}

// Open initializes the stream sending the proper XMPP payload.
func (c *Codec) Open() error {
	if !atomic.CompareAndSwapUint32(&c.opened, 0, 1) {
		return errors.New("stream already opened")
	}
	ops := xmpp.NewElementName("stream:stream")
	ops.SetAttribute("xmlns", c.namespace())
	ops.SetAttribute("xmlns:stream", streamNamespace)
	if c.isServer {
		ops.SetAttribute("xmlns:db", dialbackNamespace)
	}
	buf := &strings.Builder{}
	buf.WriteString(`<?xml version="1.0"?>`)

	if !c.isInitiating {
		c.mu.RLock()
		ops.SetAttribute("id", c.streamID)
		c.mu.RUnlock()
	}
	ops.SetAttribute("from", c.jid().Domain())
	if c.isInitiating {
		c.mu.RLock()
		ops.SetAttribute("to", c.remoteDomain)
		c.mu.RUnlock()
	}
	if !c.isComponent { // component streams carry no version attribute
		ops.SetAttribute("version", "1.0")
	}
	ops.ToXML(buf, false)

	openStr := buf.String()
	log.Debugf("SEND(%s): %s", c.id, openStr)

	if err := c.tr.WriteString(openStr); err != nil {
		return err
	}
	return c.tr.Flush()
}

// Close closes the stream sending the proper XMPP payload.
// Is responsibility of the caller to close the underlying transport.
func (c *Codec) Close() error {
	if atomic.LoadUint32(&c.opened) == 0 {
		return errors.New("stream already closed")
	}
	if err := c.tr.WriteString("</stream:stream>"); err != nil {
		return err
	}
	return c.tr.Flush()
}

// Send writes an XML element to the underlying codec transport.
func (c *Codec) Send(elem xmpp.XElement) {
	// clear namespace if sending a stanza
	if e, ok := elem.(namespaceSettable); elem.IsStanza() && ok {
		e.SetNamespace("")
	}
	log.Debugf("SEND(%s): %v", c.id, elem)
	elem.ToXML(c.tr, true)
	_ = c.tr.Flush()
}

// Receive returns next incoming codec element.
func (c *Codec) Receive() (xmpp.XElement, *Error) {
	elem, err := c.pr.ParseElement()
	if err != nil {
		return nil, c.mapErrorToCodecError(err)
	}
	if elem != nil {
		log.Debugf("RECV(%s): %v", c.id, elem)

		if atomic.LoadUint32(&c.started) == 0 {
			if err := c.validateStreamElement(elem); err != nil {
				return nil, err
			}
			if c.isInitiating {
				c.mu.Lock()
				c.streamID = elem.ID()
				c.mu.Unlock()
			}
			atomic.StoreUint32(&c.started, 1)

		} else if elem.IsStanza() {
			stanza, err := c.buildStanza(elem)
			if err != nil {
				return nil, err
			}
			return stanza, nil
		}
	}
	return elem, nil
}

func (c *Codec) buildStanza(elem xmpp.XElement) (xmpp.Stanza, *Error) {
	if err := c.validateNamespace(elem); err != nil {
		return nil, err
	}
	fromJID, toJID, errStanza := c.extractAddresses(elem)
	if errStanza != nil {
		return nil, errStanza
	}
	switch elem.Name() {
	case xmpp.IQName:
		iq, err := xmpp.NewIQFromElement(elem, fromJID, toJID)
		if err != nil {
			log.Error(err)
			return nil, &Error{Element: elem, UnderlyingErr: xmpp.ErrBadRequest}
		}
		return iq, nil

	case xmpp.PresenceName:
		presence, err := xmpp.NewPresenceFromElement(elem, fromJID, toJID)
		if err != nil {
			log.Error(err)
			return nil, &Error{Element: elem, UnderlyingErr: xmpp.ErrBadRequest}
		}
		return presence, nil

	case xmpp.MessageName:
		message, err := xmpp.NewMessageFromElement(elem, fromJID, toJID)
		if err != nil {
			log.Error(err)
			return nil, &Error{Element: elem, UnderlyingErr: xmpp.ErrBadRequest}
		}
		return message, nil
	}
	return nil, &Error{UnderlyingErr: streamerror.ErrUnsupportedStanzaType}
}

func (c *Codec) extractAddresses(elem xmpp.XElement) (*jid.JID, *jid.JID, *Error) {
	var fromJID, toJID *jid.JID

	from := elem.From()
	if !c.isServer && !c.isComponent {
		// do not validate 'from' address until full user JID has been set
		if c.jid().IsFullWithUser() {
			if len(from) > 0 && !c.isValidFrom(from) {
				return nil, nil, &Error{UnderlyingErr: streamerror.ErrInvalidFrom}
			}
		}
		fromJID = c.jid()
	} else {
		c.mu.RLock()
		remoteDomain := c.remoteDomain
		c.mu.RUnlock()

		j, err := jid.NewWithString(from, false)
		if err != nil || j.Domain() != remoteDomain {
			return nil, nil, &Error{UnderlyingErr: streamerror.ErrInvalidFrom}
		}
		fromJID = j
	}

	// validate 'to' address
	to := elem.To()
	if len(to) > 0 {
		j, err := jid.NewWithString(to, false)
		if err != nil {
			return nil, nil, &Error{Element: elem, UnderlyingErr: xmpp.ErrJidMalformed}
		}
		toJID = j
	} else {
		toJID = c.jid().ToBareJID() // account's bare JID as default 'to'
	}
	return fromJID, toJID, nil
}

func (c *Codec) isValidFrom(from string) bool {
	validFrom := false
	j, err := jid.NewWithString(from, false)
	if err == nil && j != nil {
		node := j.Node()
		domain := j.Domain()
		resource := j.Resource()

		validFrom = node == c.jid().Node() && domain == c.jid().Domain()
		if len(resource) > 0 {
			validFrom = validFrom && resource == c.jid().Resource()
		}
	}
	return validFrom
}

func (c *Codec) validateStreamElement(elem xmpp.XElement) *Error {
	if elem.Name() != "stream:stream" {
		return &Error{UnderlyingErr: streamerror.ErrUnsupportedStanzaType}
	}
	if elem.Namespace() != c.namespace() || elem.Attributes().Get("xmlns:stream") != streamNamespace {
		return &Error{UnderlyingErr: streamerror.ErrInvalidNamespace}
	}
	if c.isComponent {
		// the 'to' address binds a component subdomain; validated by
		// the component stream itself
		return nil
	}
	to := elem.To()
	if len(to) > 0 && !host.IsLocalHost(to) {
		return &Error{UnderlyingErr: streamerror.ErrHostUnknown}
	}
	if elem.Version() != "1.0" {
		return &Error{UnderlyingErr: streamerror.ErrUnsupportedVersion}
	}
	return nil
}

func (c *Codec) validateNamespace(elem xmpp.XElement) *Error {
	ns := elem.Namespace()
	if len(ns) == 0 || ns == c.namespace() {
		return nil
	}
	return &Error{UnderlyingErr: streamerror.ErrInvalidNamespace}
}

func (c *Codec) namespace() string {
	switch {
	case c.isServer:
		return jabberServerNamespace
	case c.isComponent:
		return jabberComponentNamespace
	}
	return jabberClientNamespace
}

func (c *Codec) jid() *jid.JID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sJID
}

func (c *Codec) mapErrorToCodecError(err error) *Error {
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF:
		break

	case xmpp.ErrStreamClosedByPeer:
		_ = c.Close()

	case xmpp.ErrTooLargeStanza:
		return &Error{UnderlyingErr: streamerror.ErrPolicyViolation}

	default:
		switch e := err.(type) {
		case net.Error:
			if e.Timeout() {
				return &Error{UnderlyingErr: streamerror.ErrConnectionTimeout}
			}
			return &Error{UnderlyingErr: err}

		case *stdxml.SyntaxError:
			return &Error{UnderlyingErr: streamerror.ErrInvalidXML}

		default:
			return &Error{UnderlyingErr: err}
		}
	}
	return &Error{}
}
