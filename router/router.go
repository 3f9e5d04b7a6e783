/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"github.com/pkg/errors"

	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

var (
	// ErrNoSuchRoute will be returned by routing methods
	// when no route is found for a given address.
	ErrNoSuchRoute = errors.New("router: no such route")

	// ErrNotAuthenticated will be returned by routing methods
	// when the originating session is not authenticated.
	ErrNotAuthenticated = errors.New("router: session not authenticated")
)

// Deliverable represents an entity able to receive routed stanzas.
type Deliverable interface {
	Deliver(stanza xmpp.Stanza) error
}

// Endpoint represents the originating session of a routed stanza.
type Endpoint interface {
	Deliverable

	IsAuthenticated() bool
	Close() error
}

// Sessions provides live session lookup to the stanza routers.
type Sessions interface {
	// BestRoute returns the best deliverable session for an address,
	// or nil when the user has no active sessions.
	BestRoute(j *jid.JID) Deliverable

	// IsActiveRoute returns whether or not an address maps
	// to a live, validated session.
	IsActiveRoute(j *jid.JID) bool
}

// OfflineStore stores messages that couldn't be routed to any session.
type OfflineStore interface {
	StoreOffline(message *xmpp.Message) error
}

// PresenceUpdateHandler handles local availability presence updates.
type PresenceUpdateHandler interface {
	ProcessPresence(presence *xmpp.Presence) error

	// DirectedPresenceSent notifies that a directed presence has been
	// delivered to a specific entity, so it can be retracted later on.
	DirectedPresenceSent(presence *xmpp.Presence)
}

// PresenceSubscribeHandler handles presence subscription stanzas.
type PresenceSubscribeHandler interface {
	ProcessSubscription(presence *xmpp.Presence) error
}

// Router composes the per-kind stanza routers behind a single
// dispatch entry point.
type Router struct {
	Table    *Table
	IQ       *IQRouter
	Message  *MessageRouter
	Presence *PresenceRouter
}

// Route dispatches a stanza to the router matching its kind on behalf
// of an originating endpoint.
func (r *Router) Route(stanza xmpp.Stanza, sender Endpoint) {
	switch st := stanza.(type) {
	case *xmpp.IQ:
		r.IQ.Route(st, sender)
	case *xmpp.Message:
		r.Message.Route(st, sender)
	case *xmpp.Presence:
		r.Presence.Route(st, sender)
	}
}

// HasComponentRoute returns whether a component service is bound at a
// given domain. Only components bind domain-level routes, so a hit
// means the domain is served locally even though it is not a host name.
func (r *Router) HasComponentRoute(domain string) bool {
	if r.Table == nil {
		return false
	}
	j, err := jid.New("", domain, "", true)
	if err != nil {
		return false
	}
	_, err = r.Table.GetRoute(j)
	return err == nil
}
