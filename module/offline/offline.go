/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package offline

import (
	"github.com/pkg/errors"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/storage"
	"github.com/aether-im/aether/xmpp"
)

// ErrQueueFull will be returned by StoreOffline when a user's offline
// queue reached its configured size.
var ErrQueueFull = errors.New("offline: queue is full")

// Offline archives messages that couldn't be delivered to any live
// session and hands them back once the user comes online.
type Offline struct {
	cfg *Config
	gw  gateway
}

// New returns an offline message storage module.
func New(config *Config) *Offline {
	o := &Offline{cfg: config}
	if config.Gateway != nil {
		o.gw = newHTTPGateway(config.Gateway.URL, config.Gateway.Pass)
	}
	return o
}

// StoreOffline archives a message into the user's offline queue.
func (o *Offline) StoreOffline(message *xmpp.Message) error {
	if !isMessageArchivable(message) {
		return nil
	}
	username := message.ToJID().Node()
	queueSize, err := storage.Instance().CountOfflineMessages(username)
	if err != nil {
		return err
	}
	if queueSize >= o.cfg.QueueSize {
		return ErrQueueFull
	}
	delayed, _ := xmpp.NewMessageFromElement(message, message.FromJID(), message.ToJID())
	delayed.Delay(message.FromJID().Domain(), "Offline Storage")

	if err := storage.Instance().InsertOfflineMessage(delayed, username); err != nil {
		return err
	}
	log.Infof("archived offline message... id: %s", message.ID())

	if o.gw != nil {
		if err := o.gw.Route(delayed); err != nil {
			log.Errorf("offline: bad gateway response: %v", err)
		}
	}
	return nil
}

// DeliverOfflineMessages delivers every archived message of a user to
// a destination endpoint, deleting them from storage afterwards.
func (o *Offline) DeliverOfflineMessages(to router.Deliverable, username string) error {
	elems, err := storage.Instance().FetchOfflineMessages(username)
	if err != nil {
		return err
	}
	if len(elems) == 0 {
		return nil
	}
	log.Infof("delivering offline messages... user: %s, count: %d", username, len(elems))

	for _, el := range elems {
		stanza, err := xmpp.NewStanzaFromElement(el)
		if err != nil {
			log.Error(err)
			continue
		}
		_ = to.Deliver(stanza)
	}
	return storage.Instance().DeleteOfflineMessages(username)
}

func isMessageArchivable(message *xmpp.Message) bool {
	return message.IsNormal() || (message.IsChat() && message.IsMessageWithBody())
}
