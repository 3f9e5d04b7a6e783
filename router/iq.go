/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/xmpp"
)

const (
	authNamespace     = "jabber:iq:auth"
	registerNamespace = "jabber:iq:register"
)

// IQHandler processes iq stanzas addressed to the local server.
type IQHandler interface {
	ProcessIQ(iq *xmpp.IQ)
}

// IQRouter routes iq stanzas to local server handlers, routable
// services or session endpoints.
type IQRouter struct {
	table    *Table
	sessions Sessions

	mu       sync.RWMutex
	handlers map[string]IQHandler
}

// NewIQRouter returns an iq router given a routing table and a live
// session registry.
func NewIQRouter(table *Table, sessions Sessions) *IQRouter {
	return &IQRouter{
		table:    table,
		sessions: sessions,
		handlers: make(map[string]IQHandler),
	}
}

// RegisterHandler registers an iq handler for a given child element
// namespace, replacing any previously registered one.
func (r *IQRouter) RegisterHandler(namespace string, handler IQHandler) {
	r.mu.Lock()
	r.handlers[namespace] = handler
	r.mu.Unlock()
}

// UnregisterHandler removes the iq handler associated to a namespace.
func (r *IQRouter) UnregisterHandler(namespace string) {
	r.mu.Lock()
	delete(r.handlers, namespace)
	r.mu.Unlock()
}

// Route routes an iq stanza on behalf of an originating endpoint.
// Routing failures are resolved here: bounced back to the sender,
// dropped when the sender is nil, or fatal to the sender connection.
// Callers never see an error.
func (r *IQRouter) Route(iq *xmpp.IQ, sender Endpoint) {
	switch err := r.route(iq, sender); err {
	case nil:
		return
	case ErrNotAuthenticated:
		// routed back to the sender's own session, never
		// to the original recipient
		if sender != nil {
			_ = sender.Deliver(iq.NotAuthorizedError())
		}
	case ErrNoSuchRoute:
		if sender != nil {
			_ = sender.Deliver(iq.ServiceUnavailableError())
		}
	case errFeatureNotImplemented:
		if sender != nil {
			_ = sender.Deliver(iq.FeatureNotImplementedError())
		}
	default:
		log.Error(err)
		if sender != nil {
			_ = sender.Close()
		}
	}
}

var errFeatureNotImplemented = errors.New("router: feature not implemented")

func (r *IQRouter) route(iq *xmpp.IQ, sender Endpoint) error {
	if sender != nil && !sender.IsAuthenticated() && !isBootstrapIQ(iq) {
		return ErrNotAuthenticated
	}
	toJID := iq.ToJID()
	if host.IsLocalHost(toJID.Domain()) && len(toJID.Resource()) == 0 {
		return r.routeToLocalServer(iq)
	}
	handler, err := r.table.GetRoute(toJID)
	if err != nil {
		return err
	}
	return handler.Deliver(iq)
}

func (r *IQRouter) routeToLocalServer(iq *xmpp.IQ) error {
	if handler := r.matchingHandler(iq); handler != nil {
		handler.ProcessIQ(iq)
		return nil
	}
	if len(iq.ToJID().Node()) > 0 {
		// the node may name a routable service, e.g. a chat room host
		if handler, err := r.table.GetRoute(iq.ToJID()); err == nil {
			return handler.Deliver(iq)
		}
		return ErrNoSuchRoute
	}
	return errFeatureNotImplemented
}

func (r *IQRouter) matchingHandler(iq *xmpp.IQ) IQHandler {
	elems := iq.Elements().All()
	if len(elems) == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[elems[0].Namespace()]
}

func isBootstrapIQ(iq *xmpp.IQ) bool {
	elems := iq.Elements().All()
	if len(elems) == 0 {
		return false
	}
	switch elems[0].Namespace() {
	case authNamespace, registerNamespace:
		return true
	}
	return false
}
