/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

// Component represents a service bound at its own domain, receiving
// every stanza addressed to that domain or below it.
type Component interface {
	Host() string
	ProcessStanza(stanza xmpp.Stanza)
	Shutdown()
}

// Components keeps the set of registered components, binding each one
// as a domain-level route.
type Components struct {
	table *router.Table

	mu    sync.RWMutex
	comps map[string]Component
}

// New returns an empty component registry bound to a routing table.
func New(table *router.Table) *Components {
	return &Components{
		table: table,
		comps: make(map[string]Component),
	}
}

// Register adds a component to the registry and binds its host domain
// into the routing table.
func (cs *Components) Register(c Component) error {
	host := c.Host()
	hostJID, err := jid.New("", host, "", true)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	if _, ok := cs.comps[host]; ok {
		cs.mu.Unlock()
		return errors.Errorf("component host name conflict: %s", host)
	}
	cs.comps[host] = c
	cs.mu.Unlock()

	cs.table.AddRoute(hostJID, &componentRoute{comp: c})
	log.Infof("registered component... host: %s", host)
	return nil
}

// Unregister removes a component from the registry and unbinds its
// domain route.
func (cs *Components) Unregister(host string) {
	cs.mu.Lock()
	c, ok := cs.comps[host]
	delete(cs.comps, host)
	cs.mu.Unlock()
	if !ok {
		return
	}
	hostJID, _ := jid.New("", host, "", true)
	cs.table.RemoveRoute(hostJID)
	c.Shutdown()
	log.Infof("unregistered component... host: %s", host)
}

// Get returns the component associated to a host name.
func (cs *Components) Get(host string) Component {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.comps[host]
}

// GetAll returns every registered component.
func (cs *Components) GetAll() []Component {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var ret []Component
	for _, c := range cs.comps {
		ret = append(ret, c)
	}
	return ret
}

// Shutdown unregisters every component.
func (cs *Components) Shutdown() {
	cs.mu.RLock()
	var hosts []string
	for host := range cs.comps {
		hosts = append(hosts, host)
	}
	cs.mu.RUnlock()
	for _, host := range hosts {
		cs.Unregister(host)
	}
}

// componentRoute adapts a component to the routing table's
// deliverable contract.
type componentRoute struct {
	comp Component
}

func (cr *componentRoute) Deliver(stanza xmpp.Stanza) error {
	cr.comp.ProcessStanza(stanza)
	return nil
}
