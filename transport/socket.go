/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package transport

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"time"
)

const socketBuffSize = 4096

type socketTransport struct {
	conn      net.Conn
	br        *bufio.Reader
	bw        *bufio.Writer
	keepAlive time.Duration
}

// NewSocketTransport creates a socket class stream transport.
func NewSocketTransport(conn net.Conn, keepAlive time.Duration) Transport {
	s := &socketTransport{
		conn:      conn,
		br:        bufio.NewReaderSize(conn, socketBuffSize),
		bw:        bufio.NewWriterSize(conn, socketBuffSize),
		keepAlive: keepAlive,
	}
	return s
}

func (s *socketTransport) Type() Type {
	return Socket
}

func (s *socketTransport) Read(p []byte) (n int, err error) {
	if s.keepAlive > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.keepAlive))
	}
	return s.br.Read(p)
}

func (s *socketTransport) Write(p []byte) (n int, err error) {
	return s.bw.Write(p)
}

func (s *socketTransport) WriteString(str string) error {
	_, err := io.WriteString(s.bw, str)
	return err
}

func (s *socketTransport) Flush() error {
	return s.bw.Flush()
}

func (s *socketTransport) Close() error {
	return s.conn.Close()
}

type tlsStateQueryable interface {
	ConnectionState() tls.ConnectionState
}

func (s *socketTransport) StartTLS(cfg *tls.Config, asClient bool) {
	if _, ok := s.conn.(tlsStateQueryable); ok {
		return
	}
	if asClient {
		s.conn = tls.Client(s.conn, cfg)
	} else {
		s.conn = tls.Server(s.conn, cfg)
	}
	s.bw.Reset(s.conn)
	s.br.Reset(s.conn)
}

func (s *socketTransport) ChannelBindingBytes(mechanism ChannelBindingMechanism) []byte {
	if conn, ok := s.conn.(tlsStateQueryable); ok {
		switch mechanism {
		case TLSUnique:
			st := conn.ConnectionState()
			return st.TLSUnique
		}
	}
	return nil
}

func (s *socketTransport) PeerCertificates() []*x509.Certificate {
	if conn, ok := s.conn.(tlsStateQueryable); ok {
		st := conn.ConnectionState()
		return st.PeerCertificates
	}
	return nil
}
