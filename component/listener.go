/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	streamerror "github.com/aether-im/aether/errors"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/transport"
)

var listenerProvider = net.Listen

// Listener accepts external component connections, attaching an
// in stream to each accepted socket.
type Listener struct {
	cfg       *Config
	comps     *Components
	router    stanzaRouter
	ln        net.Listener
	listening uint32

	mu        sync.RWMutex
	inStreams map[string]*inStream
}

// NewListener returns an external component socket listener.
func NewListener(cfg *Config, comps *Components, stanzaRouter stanzaRouter) *Listener {
	return &Listener{
		cfg:       cfg,
		comps:     comps,
		router:    stanzaRouter,
		inStreams: make(map[string]*inStream),
	}
}

// Start begins accepting external component connections.
func (l *Listener) Start() {
	address := l.cfg.BindAddress + ":" + strconv.Itoa(l.cfg.Port)

	log.Infof("accepting external component connections at %s", address)

	if err := l.listenConn(address); err != nil {
		log.Fatalf("%v", err)
	}
}

func (l *Listener) listenConn(address string) error {
	ln, err := listenerProvider("tcp", address)
	if err != nil {
		return err
	}
	l.ln = ln

	atomic.StoreUint32(&l.listening, 1)
	for atomic.LoadUint32(&l.listening) == 1 {
		conn, err := ln.Accept()
		if err == nil {
			go l.startInStream(conn)
			continue
		}
	}
	return nil
}

// Shutdown stops accepting connections, disconnecting every attached
// stream with a system-shutdown stream error.
func (l *Listener) Shutdown() {
	if !atomic.CompareAndSwapUint32(&l.listening, 1, 0) {
		return
	}
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.mu.RLock()
	streams := make([]*inStream, 0, len(l.inStreams))
	for _, stm := range l.inStreams {
		streams = append(streams, stm)
	}
	l.mu.RUnlock()

	for _, stm := range streams {
		stm.Disconnect(streamerror.ErrSystemShutdown)
	}
}

func (l *Listener) startInStream(conn net.Conn) {
	cfg := &streamConfig{
		transport:      transport.NewSocketTransport(conn, 0),
		connectTimeout: l.cfg.ConnectTimeout,
		maxStanzaSize:  l.cfg.MaxStanzaSize,
		secret:         l.cfg.Secret,
		onDisconnect:   l.unregisterInStream,
	}
	stm := newInStream(nextStreamID(), cfg, l.comps, l.router)
	l.registerInStream(stm)
}

func (l *Listener) registerInStream(stm *inStream) {
	l.mu.Lock()
	l.inStreams[stm.ID()] = stm
	l.mu.Unlock()
}

func (l *Listener) unregisterInStream(id string) {
	l.mu.Lock()
	delete(l.inStreams, id)
	l.mu.Unlock()
}
