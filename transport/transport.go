/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"
)

// Type represents a stream transport type.
type Type int

const (
	// Socket represents a socket transport type.
	Socket Type = iota + 1
)

// String returns Type string representation.
func (tt Type) String() string {
	switch tt {
	case Socket:
		return "socket"
	}
	return ""
}

// ChannelBindingMechanism represents a scram channel binding mechanism.
type ChannelBindingMechanism int

const (
	// TLSUnique represents 'tls-unique' channel binding mechanism.
	TLSUnique ChannelBindingMechanism = iota
)

// Transport represents a stream transport mechanism.
type Transport interface {
	io.ReadWriteCloser

	// Type returns transport type value.
	Type() Type

	// WriteString writes a raw string to the transport.
	WriteString(s string) error

	// Flush writes any buffered data to the underlying connection.
	Flush() error

	// StartTLS secures the transport using SSL/TLS.
	StartTLS(cfg *tls.Config, asClient bool)

	// ChannelBindingBytes returns current transport channel binding bytes.
	ChannelBindingBytes(mechanism ChannelBindingMechanism) []byte

	// PeerCertificates returns the certificate chain presented by remote peer.
	PeerCertificates() []*x509.Certificate
}
