/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/xmpp"
)

// MessageRouter routes message stanzas to the best available session,
// falling back to the routing table for component-bound recipients and
// to offline storage when the recipient is unreachable.
type MessageRouter struct {
	table    *Table
	sessions Sessions
	offline  OfflineStore
}

// NewMessageRouter returns a message router given a routing table, a
// live session registry and an offline message store.
func NewMessageRouter(table *Table, sessions Sessions, offline OfflineStore) *MessageRouter {
	return &MessageRouter{table: table, sessions: sessions, offline: offline}
}

// Route routes a message stanza on behalf of an originating endpoint.
// A message to an unreachable user is never bounced: any routing
// failure hands the stanza to the offline store, and secondary
// failures are swallowed.
func (r *MessageRouter) Route(message *xmpp.Message, sender Endpoint) {
	switch err := r.route(message, sender); err {
	case nil:
		return
	case ErrNotAuthenticated:
		_ = sender.Deliver(message.NotAuthorizedError())
	default:
		r.storeOffline(message)
	}
}

func (r *MessageRouter) route(message *xmpp.Message, sender Endpoint) error {
	if !sender.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if handler := r.sessions.BestRoute(message.ToJID()); handler != nil {
		return handler.Deliver(message)
	}
	// the recipient may be a component bound at domain level
	handler, err := r.table.GetBestRoute(message.ToJID())
	if err != nil {
		return err
	}
	return handler.Deliver(message)
}

func (r *MessageRouter) storeOffline(message *xmpp.Message) {
	if r.offline == nil {
		return
	}
	if err := r.offline.StoreOffline(message); err != nil {
		log.Error(err)
	}
}
