/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"
	"io"

	"github.com/aether-im/aether/pool"
	"github.com/aether-im/aether/xmpp/jid"
)

var bufPool = pool.NewBufferPool()

const (
	// IQName represents an "iq" stanza name.
	IQName = "iq"

	// MessageName represents a "message" stanza name.
	MessageName = "message"

	// PresenceName represents a "presence" stanza name.
	PresenceName = "presence"
)

// ErrorType represents an 'error' stanza type.
const ErrorType = "error"

// XElement represents a generic XML node element.
type XElement interface {
	fmt.Stringer

	Name() string
	Attributes() AttributeSet
	Elements() ElementSet

	Text() string

	ID() string
	Namespace() string
	Language() string
	Version() string
	From() string
	To() string
	Type() string

	IsStanza() bool

	IsError() bool
	Error() XElement

	ToXML(w io.Writer, includeClosing bool)
}

// Stanza represents an XMPP stanza element.
type Stanza interface {
	XElement
	FromJID() *jid.JID
	ToJID() *jid.JID
}
