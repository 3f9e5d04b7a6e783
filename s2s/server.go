/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/transport"
)

var listenerProvider = net.Listen

type server struct {
	cfg         *Config
	router      stanzaRouter
	outProvider *OutProvider
	ln          net.Listener
	listening   uint32

	mu        sync.RWMutex
	inStreams map[string]stream.S2SIn
}

func newServer(cfg *Config, stanzaRouter stanzaRouter, outProvider *OutProvider) *server {
	return &server{
		cfg:         cfg,
		router:      stanzaRouter,
		outProvider: outProvider,
		inStreams:   make(map[string]stream.S2SIn),
	}
}

func (s *server) start() {
	address := s.cfg.Transport.BindAddress + ":" + strconv.Itoa(s.cfg.Transport.Port)

	log.Infof("s2s: listening at %s", address)

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
			go s.startInStream(transport.NewSocketTransport(conn, s.cfg.Transport.KeepAlive))
			continue
		}
	}
	return nil
}

func (s *server) shutdown() error {
	if atomic.CompareAndSwapUint32(&s.listening, 1, 0) {
		// stop listening
		if err := s.ln.Close(); err != nil {
			return err
		}
		// close all in streams
		s.mu.RLock()
		inStreams := make([]stream.S2SIn, 0, len(s.inStreams))
		for _, stm := range s.inStreams {
			inStreams = append(inStreams, stm)
		}
		s.mu.RUnlock()

		for _, stm := range inStreams {
			stm.Disconnect(streamerror.ErrSystemShutdown)
		}
		log.Infof("%d in stream(s) closed", len(inStreams))
	}
	return nil
}

func (s *server) startInStream(tr transport.Transport) {
	stm := newInStream(&streamConfig{
		keyGen:         &keyGen{secret: s.cfg.DialbackSecret},
		connectTimeout: s.cfg.ConnectTimeout,
		keepAlive:      s.cfg.Transport.KeepAlive,
		transport:      tr,
		maxStanzaSize:  s.cfg.MaxStanzaSize,
		onInDisconnect: s.unregisterInStream,
	}, s.router, s.outProvider)

	s.registerInStream(stm)
}

func (s *server) registerInStream(stm stream.S2SIn) {
	s.mu.Lock()
	s.inStreams[stm.ID()] = stm
	s.mu.Unlock()

	log.Infof("registered s2s in stream... (id: %s)", stm.ID())
}

func (s *server) unregisterInStream(stm stream.S2SIn) {
	s.mu.Lock()
	delete(s.inStreams, stm.ID())
	s.mu.Unlock()

	log.Infof("unregistered s2s in stream... (id: %s)", stm.ID())
}
