/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/xmpp"
)

// PresenceRouter routes presence stanzas: availability updates to the
// presence update handler, subscriptions to the subscribe handler and
// directed presences to their target endpoint.
type PresenceRouter struct {
	table            *Table
	updateHandler    PresenceUpdateHandler
	subscribeHandler PresenceSubscribeHandler
}

// NewPresenceRouter returns a presence router given a routing table
// and the presence handlers. Handlers may be nil, in which case their
// stanzas are dropped.
func NewPresenceRouter(table *Table, updateHandler PresenceUpdateHandler, subscribeHandler PresenceSubscribeHandler) *PresenceRouter {
	return &PresenceRouter{
		table:            table,
		updateHandler:    updateHandler,
		subscribeHandler: subscribeHandler,
	}
}

// Route routes a presence stanza on behalf of an originating endpoint.
// Presence is fire-and-forget: a routing miss is silently dropped and
// never reported back to the sender.
func (r *PresenceRouter) Route(presence *xmpp.Presence, sender Endpoint) {
	switch err := r.route(presence, sender); err {
	case nil, ErrNoSuchRoute:
		return
	case ErrNotAuthenticated:
		_ = sender.Deliver(presence.NotAuthorizedError())
	default:
		log.Error(err)
		_ = sender.Close()
	}
}

func (r *PresenceRouter) route(presence *xmpp.Presence, sender Endpoint) error {
	if !sender.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	switch {
	case presence.IsSubscribe(), presence.IsUnsubscribe(), presence.IsSubscribed(), presence.IsUnsubscribed():
		if r.subscribeHandler == nil {
			return nil
		}
		return r.subscribeHandler.ProcessSubscription(presence)

	case presence.IsAvailable(), presence.IsUnavailable():
		toJID := presence.ToJID()
		if len(toJID.Node()) == 0 && len(toJID.Resource()) == 0 {
			if r.updateHandler == nil {
				return nil
			}
			return r.updateHandler.ProcessPresence(presence)
		}
		return r.routeDirected(presence)

	default:
		// probe and error types are delivered directly
		handler, err := r.table.GetBestRoute(presence.ToJID())
		if err != nil {
			return err
		}
		return handler.Deliver(presence)
	}
}

func (r *PresenceRouter) routeDirected(presence *xmpp.Presence) error {
	handler, err := r.table.GetBestRoute(presence.ToJID())
	if err != nil {
		return err
	}
	if err := handler.Deliver(presence); err != nil {
		return err
	}
	// report delivery so the directed presence can be retracted later
	if r.updateHandler != nil {
		r.updateHandler.DirectedPresenceSent(presence)
	}
	return nil
}
