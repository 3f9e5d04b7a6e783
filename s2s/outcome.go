/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import "fmt"

// EncryptionPolicy determines whether a server requires, accepts or
// refuses TLS on its server-to-server streams.
type EncryptionPolicy int

const (
	// EncryptionDisabled refuses any TLS negotiation.
	EncryptionDisabled EncryptionPolicy = iota

	// EncryptionOptional accepts both encrypted and plain streams.
	EncryptionOptional

	// EncryptionRequired refuses plain streams.
	EncryptionRequired
)

func (p EncryptionPolicy) String() string {
	switch p {
	case EncryptionDisabled:
		return "disabled"
	case EncryptionOptional:
		return "optional"
	case EncryptionRequired:
		return "required"
	}
	return fmt.Sprintf("unknown: %d", int(p))
}

// CertificateState describes the usability of a server certificate.
type CertificateState int

const (
	// CertificateMissing means the server presents no certificate.
	CertificateMissing CertificateState = iota

	// CertificateInvalid means the presented certificate fails chain
	// or identity validation.
	CertificateInvalid

	// CertificateValid means the presented certificate validates.
	CertificateValid
)

func (s CertificateState) String() string {
	switch s {
	case CertificateMissing:
		return "missing"
	case CertificateInvalid:
		return "invalid"
	case CertificateValid:
		return "valid"
	}
	return fmt.Sprintf("unknown: %d", int(s))
}

// ServerSettings captures one side's negotiation-relevant configuration.
type ServerSettings struct {
	Encryption  EncryptionPolicy
	Certificate CertificateState
	Dialback    bool
}

// ConnectionState is the terminal result of a server-to-server
// negotiation.
type ConnectionState int

const (
	// NoConnection means negotiation cannot succeed.
	NoConnection ConnectionState = iota

	// NonEncryptedDialback means a plain stream authenticated
	// through dialback.
	NonEncryptedDialback

	// EncryptedDialback means a TLS stream authenticated
	// through dialback.
	EncryptedDialback

	// EncryptedSASLExternal means a TLS stream with mutual
	// certificate authentication.
	EncryptedSASLExternal
)

func (s ConnectionState) String() string {
	switch s {
	case NoConnection:
		return "no connection"
	case NonEncryptedDialback:
		return "non-encrypted + dialback"
	case EncryptedDialback:
		return "encrypted + dialback"
	case EncryptedSASLExternal:
		return "encrypted + SASL EXTERNAL"
	}
	return fmt.Sprintf("unknown: %d", int(s))
}

// ExpectedOutcome is a write-once negotiation result: a terminal
// connection state plus the rationale that led to it. Resolving it
// twice to different states panics, as a negotiation must reach
// exactly one terminal state.
type ExpectedOutcome struct {
	resolved  bool
	state     ConnectionState
	rationale []string
}

// State returns the resolved terminal connection state.
func (o *ExpectedOutcome) State() ConnectionState { return o.state }

// Rationale returns the reasons that led to the terminal state.
func (o *ExpectedOutcome) Rationale() []string { return o.rationale }

func (o *ExpectedOutcome) resolve(state ConnectionState, rationale string) {
	if o.resolved && o.state != state {
		panic(fmt.Sprintf("s2s: outcome already resolved to %s, cannot resolve to %s", o.state, state))
	}
	o.resolved = true
	o.state = state
	o.rationale = append(o.rationale, rationale)
}

// ComputeOutcome determines the terminal state a server-to-server
// negotiation must reach for a given pair of initiator and receiver
// settings.
func ComputeOutcome(initiator, receiver *ServerSettings) *ExpectedOutcome {
	out := &ExpectedOutcome{}

	// incompatible encryption policies
	if (initiator.Encryption == EncryptionRequired && receiver.Encryption == EncryptionDisabled) ||
		(receiver.Encryption == EncryptionRequired && initiator.Encryption == EncryptionDisabled) {
		out.resolve(NoConnection, "one side requires encryption the other side disabled")
		return out
	}
	// TLS never attempted
	if initiator.Encryption == EncryptionDisabled || receiver.Encryption == EncryptionDisabled {
		resolveDialback(out, initiator, receiver, "TLS not attempted")
		return out
	}
	// TLS attempted but the receiver cannot present a usable certificate
	if receiver.Certificate != CertificateValid {
		if initiator.Encryption == EncryptionRequired || receiver.Encryption == EncryptionRequired {
			out.resolve(NoConnection, fmt.Sprintf("receiver certificate %s and encryption required", receiver.Certificate))
			return out
		}
		resolveDialback(out, initiator, receiver, fmt.Sprintf("receiver certificate %s, TLS abandoned", receiver.Certificate))
		return out
	}
	// TLS succeeds against the receiver certificate
	switch initiator.Certificate {
	case CertificateValid:
		out.resolve(EncryptedSASLExternal, "mutual certificate authentication")

	case CertificateMissing:
		if initiator.Dialback && receiver.Dialback {
			out.resolve(EncryptedDialback, "initiator presents no certificate, dialback over TLS")
		} else {
			out.resolve(NoConnection, "initiator presents no certificate and dialback unsupported")
		}

	case CertificateInvalid:
		// an invalid initiator certificate aborts TLS outright,
		// with no dialback downgrade path
		out.resolve(NoConnection, "initiator certificate invalid, TLS aborted")
	}
	return out
}

func resolveDialback(out *ExpectedOutcome, initiator, receiver *ServerSettings, rationale string) {
	if initiator.Dialback && receiver.Dialback {
		out.resolve(NonEncryptedDialback, rationale+", both sides support dialback")
	} else {
		out.resolve(NoConnection, rationale+", dialback unsupported")
	}
}
