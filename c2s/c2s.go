/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"sync/atomic"

	"github.com/aether-im/aether/session"
	"github.com/pkg/errors"
)

// C2S represents the client-to-server connection manager: one socket
// listener per configured server, each spawning an in stream per
// accepted connection.
type C2S struct {
	servers []*server
	started uint32
}

// New returns a c2s connection manager. The offline deliverer and the
// out provider may be nil, disabling offline delivery and remote
// domain routing respectively.
func New(configs []Config, stanzaRouter stanzaRouter, sessions *session.Manager, offline offlineDeliverer, outProvider outProvider) (*C2S, error) {
	if len(configs) == 0 {
		return nil, errors.New("c2s: at least one server configuration is required")
	}
	c := &C2S{}
	for i := range configs {
		c.servers = append(c.servers, newServer(&configs[i], stanzaRouter, sessions, offline, outProvider))
	}
	return c, nil
}

// Start spawns every server listener.
func (c *C2S) Start() {
	if atomic.CompareAndSwapUint32(&c.started, 0, 1) {
		for _, srv := range c.servers {
			go srv.start()
		}
	}
}

// Shutdown closes every server listener, disconnecting their attached
// streams with a system-shutdown stream error.
func (c *C2S) Shutdown() {
	if atomic.CompareAndSwapUint32(&c.started, 1, 0) {
		for _, srv := range c.servers {
			srv.shutdown()
		}
	}
}
