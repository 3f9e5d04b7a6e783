/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/session"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/transport"
)

var listenerProvider = net.Listen

type server struct {
	cfg         *Config
	router      stanzaRouter
	sessions    *session.Manager
	offline     offlineDeliverer
	outProvider outProvider
	ln          net.Listener
	listening   uint32

	mu        sync.RWMutex
	inStreams map[string]stream.C2S
}

func newServer(cfg *Config, stanzaRouter stanzaRouter, sessions *session.Manager, offline offlineDeliverer, outProvider outProvider) *server {
	return &server{
		cfg:         cfg,
		router:      stanzaRouter,
		sessions:    sessions,
		offline:     offline,
		outProvider: outProvider,
		inStreams:   make(map[string]stream.C2S),
	}
}

func (s *server) start() {
	bindAddr := s.cfg.Transport.BindAddress
	port := s.cfg.Transport.Port
	address := bindAddr + ":" + strconv.Itoa(port)

	log.Infof("%s: listening at %s", s.cfg.ID, address)

	if err := s.listenConn(address); err != nil {
		log.Fatalf("%v", err)
	}
}

func (s *server) listenConn(address string) error {
	ln, err := listenerProvider("tcp", address)
	if err != nil {
		return err
	}
	s.ln = ln

	atomic.StoreUint32(&s.listening, 1)
	for atomic.LoadUint32(&s.listening) == 1 {
		conn, err := ln.Accept()
		if err == nil {
			go s.startInStream(conn)
			continue
		}
	}
	return nil
}

func (s *server) shutdown() {
	if !atomic.CompareAndSwapUint32(&s.listening, 1, 0) {
		return
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.RLock()
	inStreams := make([]stream.C2S, 0, len(s.inStreams))
	for _, stm := range s.inStreams {
		inStreams = append(inStreams, stm)
	}
	s.mu.RUnlock()

	for _, stm := range inStreams {
		stm.Disconnect(streamerror.ErrSystemShutdown)
	}
}

func (s *server) startInStream(conn net.Conn) {
	secured := s.cfg.Transport.DirectTLS
	if secured {
		conn = tls.Server(conn, &tls.Config{Certificates: host.Certificates()})
	}
	cfg := &streamConfig{
		transport:        transport.NewSocketTransport(conn, s.cfg.Transport.KeepAlive),
		connectTimeout:   s.cfg.ConnectTimeout,
		maxStanzaSize:    s.cfg.MaxStanzaSize,
		resourceConflict: s.cfg.ResourceConflict,
		sasl:             s.cfg.SASL,
		secured:          secured,
		onDisconnect:     s.unregisterInStream,
	}
	stm := newInStream(nextStreamID(s.cfg.ID), cfg, s.router, s.sessions, s.offline, s.outProvider)
	s.registerInStream(stm)
}

func (s *server) registerInStream(stm stream.C2S) {
	s.mu.Lock()
	s.inStreams[stm.ID()] = stm
	s.mu.Unlock()
}

func (s *server) unregisterInStream(id string) {
	s.mu.Lock()
	delete(s.inStreams, id)
	s.mu.Unlock()
}
