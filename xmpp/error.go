/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"strconv"
)

// StanzaError represents a stanza "error" element.
type StanzaError struct {
	code      int
	errorType string
	reason    string
}

func newStanzaError(code int, errorType string, reason string) *StanzaError {
	return &StanzaError{
		code:      code,
		errorType: errorType,
		reason:    reason,
	}
}

// Error satisfies error interface.
func (se *StanzaError) Error() string {
	return se.reason
}

// Element returns StanzaError equivalent XML element.
func (se *StanzaError) Element() *Element {
	err := NewElementName("error")
	err.SetAttribute("code", strconv.Itoa(se.code))
	err.SetAttribute("type", se.errorType)
	err.AppendElement(NewElementNamespace(se.reason, "urn:ietf:params:xml:ns:xmpp-stanzas"))
	return err
}

const (
	authErrorType   = "auth"
	cancelErrorType = "cancel"
	modifyErrorType = "modify"
	waitErrorType   = "wait"
)

var (
	// ErrBadRequest is returned when the sender has sent XML that is
	// malformed or that cannot be processed.
	ErrBadRequest = newStanzaError(400, modifyErrorType, "bad-request")

	// ErrConflict is returned when access cannot be granted because an
	// existing resource or session exists with the same name or address.
	ErrConflict = newStanzaError(409, cancelErrorType, "conflict")

	// ErrFeatureNotImplemented is returned when the requested feature is
	// not implemented by the server and therefore cannot be processed.
	ErrFeatureNotImplemented = newStanzaError(501, cancelErrorType, "feature-not-implemented")

	// ErrForbidden is returned when the requesting entity does not possess
	// the required permissions to perform the action.
	ErrForbidden = newStanzaError(403, authErrorType, "forbidden")

	// ErrInternalServerError is returned when the server could not process
	// the stanza because of an undefined internal server error.
	ErrInternalServerError = newStanzaError(500, waitErrorType, "internal-server-error")

	// ErrItemNotFound is returned when the addressed JID or item requested
	// cannot be found.
	ErrItemNotFound = newStanzaError(404, cancelErrorType, "item-not-found")

	// ErrJidMalformed is returned when the sending entity has provided an
	// XMPP address that does not adhere to the addressing syntax.
	ErrJidMalformed = newStanzaError(400, modifyErrorType, "jid-malformed")

	// ErrNotAcceptable is returned when the server understands the request
	// but is refusing to process it because it does not meet the defined criteria.
	ErrNotAcceptable = newStanzaError(406, modifyErrorType, "not-acceptable")

	// ErrNotAllowed is returned when the recipient or server does not allow
	// any entity to perform the action.
	ErrNotAllowed = newStanzaError(405, cancelErrorType, "not-allowed")

	// ErrNotAuthorized is returned when the sender must provide proper
	// credentials before being allowed to perform the action.
	ErrNotAuthorized = newStanzaError(405, authErrorType, "not-authorized")

	// ErrRecipientUnavailable is returned when the intended recipient is
	// temporarily unavailable.
	ErrRecipientUnavailable = newStanzaError(404, waitErrorType, "recipient-unavailable")

	// ErrRemoteServerNotFound is returned when a remote server or service
	// specified as part of the JID of the intended recipient does not exist.
	ErrRemoteServerNotFound = newStanzaError(404, cancelErrorType, "remote-server-not-found")

	// ErrRemoteServerTimeout is returned when a remote server could not be
	// contacted within a reasonable amount of time.
	ErrRemoteServerTimeout = newStanzaError(504, waitErrorType, "remote-server-timeout")

	// ErrResourceConstraint is returned when the server or recipient lacks
	// the system resources necessary to service the request.
	ErrResourceConstraint = newStanzaError(500, waitErrorType, "resource-constraint")

	// ErrServiceUnavailable is returned when the server or recipient does
	// not currently provide the requested service.
	ErrServiceUnavailable = newStanzaError(503, cancelErrorType, "service-unavailable")

	// ErrUndefinedCondition is returned when the error condition is not one
	// of those defined by the other conditions in this list.
	ErrUndefinedCondition = newStanzaError(500, waitErrorType, "undefined-condition")
)

// BadRequestError returns an error copy of the stanza
// attaching 'bad-request' error sub element.
func (s *stanzaElement) BadRequestError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrBadRequest, nil)
}

// ConflictError returns an error copy of the stanza
// attaching 'conflict' error sub element.
func (s *stanzaElement) ConflictError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrConflict, nil)
}

// FeatureNotImplementedError returns an error copy of the stanza
// attaching 'feature-not-implemented' error sub element.
func (s *stanzaElement) FeatureNotImplementedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrFeatureNotImplemented, nil)
}

// ForbiddenError returns an error copy of the stanza
// attaching 'forbidden' error sub element.
func (s *stanzaElement) ForbiddenError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrForbidden, nil)
}

// InternalServerError returns an error copy of the stanza
// attaching 'internal-server-error' error sub element.
func (s *stanzaElement) InternalServerError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrInternalServerError, nil)
}

// ItemNotFoundError returns an error copy of the stanza
// attaching 'item-not-found' error sub element.
func (s *stanzaElement) ItemNotFoundError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrItemNotFound, nil)
}

// JidMalformedError returns an error copy of the stanza
// attaching 'jid-malformed' error sub element.
func (s *stanzaElement) JidMalformedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrJidMalformed, nil)
}

// NotAllowedError returns an error copy of the stanza
// attaching 'not-allowed' error sub element.
func (s *stanzaElement) NotAllowedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrNotAllowed, nil)
}

// NotAuthorizedError returns an error copy of the stanza
// attaching 'not-authorized' error sub element.
func (s *stanzaElement) NotAuthorizedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrNotAuthorized, nil)
}

// RemoteServerNotFoundError returns an error copy of the stanza
// attaching 'remote-server-not-found' error sub element.
func (s *stanzaElement) RemoteServerNotFoundError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrRemoteServerNotFound, nil)
}

// RemoteServerTimeoutError returns an error copy of the stanza
// attaching 'remote-server-timeout' error sub element.
func (s *stanzaElement) RemoteServerTimeoutError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrRemoteServerTimeout, nil)
}

// ResourceConstraintError returns an error copy of the stanza
// attaching 'resource-constraint' error sub element.
func (s *stanzaElement) ResourceConstraintError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrResourceConstraint, nil)
}

// ServiceUnavailableError returns an error copy of the stanza
// attaching 'service-unavailable' error sub element.
func (s *stanzaElement) ServiceUnavailableError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrServiceUnavailable, nil)
}
