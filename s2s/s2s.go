/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"sync/atomic"

	"github.com/aether-im/aether/stream"
)

// S2S represents the server-to-server subsystem: a listener for
// incoming remote connections plus a provider of outgoing streams.
type S2S struct {
	cfg         *Config
	outProvider *OutProvider
	srv         *server
	started     uint32
}

// New returns an initialized s2s subsystem.
func New(cfg *Config, stanzaRouter stanzaRouter) *S2S {
	outProvider := NewOutProvider(cfg)
	return &S2S{
		cfg:         cfg,
		outProvider: outProvider,
		srv:         newServer(cfg, stanzaRouter, outProvider),
	}
}

// Start begins accepting incoming server-to-server connections.
func (s *S2S) Start() {
	if atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		go s.srv.start()
	}
}

// GetOut returns the outgoing stream associated to a domain pair.
func (s *S2S) GetOut(localDomain, remoteDomain string) stream.S2SOut {
	return s.outProvider.GetOut(localDomain, remoteDomain)
}

// Shutdown stops accepting connections and closes all active streams.
func (s *S2S) Shutdown() {
	if atomic.CompareAndSwapUint32(&s.started, 1, 0) {
		_ = s.srv.shutdown()
		s.outProvider.Shutdown()
	}
}
