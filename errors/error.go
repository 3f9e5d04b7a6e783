/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package streamerror

import (
	"github.com/aether-im/aether/xmpp"
)

// Error represents a "stream:error" element.
type Error struct {
	reason string
}

var (
	// ErrInvalidXML represents an 'invalid-xml' stream error.
	ErrInvalidXML = newStreamError("invalid-xml")

	// ErrInvalidNamespace represents an 'invalid-namespace' stream error.
	ErrInvalidNamespace = newStreamError("invalid-namespace")

	// ErrHostUnknown represents a 'host-unknown' stream error.
	ErrHostUnknown = newStreamError("host-unknown")

	// ErrInvalidFrom represents an 'invalid-from' stream error.
	ErrInvalidFrom = newStreamError("invalid-from")

	// ErrPolicyViolation represents a 'policy-violation' stream error.
	ErrPolicyViolation = newStreamError("policy-violation")

	// ErrRemoteConnectionFailed represents a 'remote-connection-failed' stream error.
	ErrRemoteConnectionFailed = newStreamError("remote-connection-failed")

	// ErrConnectionTimeout represents a 'connection-timeout' stream error.
	ErrConnectionTimeout = newStreamError("connection-timeout")

	// ErrUnsupportedStanzaType represents an 'unsupported-stanza-type' stream error.
	ErrUnsupportedStanzaType = newStreamError("unsupported-stanza-type")

	// ErrUnsupportedVersion represents an 'unsupported-version' stream error.
	ErrUnsupportedVersion = newStreamError("unsupported-version")

	// ErrNotAuthorized represents a 'not-authorized' stream error.
	ErrNotAuthorized = newStreamError("not-authorized")

	// ErrResourceConstraint represents a 'resource-constraint' stream error.
	ErrResourceConstraint = newStreamError("resource-constraint")

	// ErrConflict represents a 'conflict' stream error.
	ErrConflict = newStreamError("conflict")

	// ErrSystemShutdown represents a 'system-shutdown' stream error.
	ErrSystemShutdown = newStreamError("system-shutdown")

	// ErrUndefinedCondition represents an 'undefined-condition' stream error.
	ErrUndefinedCondition = newStreamError("undefined-condition")

	// ErrInternalServerError represents an 'internal-server-error' stream error.
	ErrInternalServerError = newStreamError("internal-server-error")
)

func newStreamError(reason string) *Error {
	return &Error{reason: reason}
}

// Element returns the stream error XML node.
func (se *Error) Element() xmpp.XElement {
	ret := xmpp.NewElementName("stream:error")
	ret.AppendElement(xmpp.NewElementNamespace(se.reason, "urn:ietf:params:xml:ns:xmpp-streams"))
	return ret
}

// Error satisfies error interface.
func (se *Error) Error() string {
	return se.reason
}
