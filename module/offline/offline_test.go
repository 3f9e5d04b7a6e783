/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package offline

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/aether-im/aether/storage"
	"github.com/aether-im/aether/storage/memstorage"
	"github.com/aether-im/aether/xmpp"
	"github.com/aether-im/aether/xmpp/jid"
)

type fakeDeliverable struct {
	stanzas []xmpp.Stanza
}

func (d *fakeDeliverable) Deliver(stanza xmpp.Stanza) error {
	d.stanzas = append(d.stanzas, stanza)
	return nil
}

func offlineTestSetup() *Offline {
	storage.Initialize(&storage.Config{Type: storage.Memory})
	return New(&Config{QueueSize: 3})
}

func offlineTestTeardown() {
	storage.Shutdown()
}

func testOfflineMessage(t *testing.T, id string) *xmpp.Message {
	t.Helper()
	from, _ := jid.NewWithString("amara@aether.im/balcony", true)
	to, _ := jid.NewWithString("livia@aether.im", true)

	m := xmpp.NewElementName("message")
	m.SetID(id)
	m.SetType(xmpp.ChatType)
	m.AppendElement(xmpp.NewElementName("body").SetText("Hi!"))

	message, err := xmpp.NewMessageFromElement(m, from, to)
	require.Nil(t, err)
	return message
}

func TestOfflineConfig(t *testing.T) {
	cfg := Config{}
	require.Nil(t, yaml.Unmarshal([]byte("queue_size: 100"), &cfg))
	require.Equal(t, 100, cfg.QueueSize)

	cfg = Config{}
	require.Nil(t, yaml.Unmarshal([]byte("{}"), &cfg))
	require.Equal(t, defaultQueueSize, cfg.QueueSize)

	cfg = Config{}
	gwYAML := `
queue_size: 100
gateway:
  url: http://127.0.0.1:6666
  pass: a-secret-pass
`
	require.Nil(t, yaml.Unmarshal([]byte(gwYAML), &cfg))
	require.NotNil(t, cfg.Gateway)
	require.Equal(t, "http://127.0.0.1:6666", cfg.Gateway.URL)
	require.Equal(t, "a-secret-pass", cfg.Gateway.Pass)

	// gateway section requires a url
	cfg = Config{}
	require.NotNil(t, yaml.Unmarshal([]byte("gateway: {pass: foo}"), &cfg))
}

func TestOfflineGatewayRouting(t *testing.T) {
	storage.Initialize(&storage.Config{Type: storage.Memory})
	defer storage.Shutdown()

	o := New(&Config{QueueSize: 3, Gateway: &GatewayConfig{URL: "http://127.0.0.1:6666", Pass: "s3cr3t"}})

	var gatewayHits int
	gw := o.gw.(*httpGateway)
	gw.client = &fakeHTTPClient{do: func(req *http.Request) (*http.Response, error) {
		gatewayHits++
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}}

	require.Nil(t, o.StoreOffline(testOfflineMessage(t, "msg-1")))
	require.Equal(t, 1, gatewayHits)

	cnt, _ := storage.Instance().CountOfflineMessages("livia")
	require.Equal(t, 1, cnt)
}

func TestOfflineArchiveMessage(t *testing.T) {
	o := offlineTestSetup()
	defer offlineTestTeardown()

	require.Nil(t, o.StoreOffline(testOfflineMessage(t, "msg-1")))

	cnt, err := storage.Instance().CountOfflineMessages("livia")
	require.Nil(t, err)
	require.Equal(t, 1, cnt)
}

func TestOfflineQueueFull(t *testing.T) {
	o := offlineTestSetup()
	defer offlineTestTeardown()

	for i := 0; i < 3; i++ {
		require.Nil(t, o.StoreOffline(testOfflineMessage(t, "msg-1")))
	}
	require.Equal(t, ErrQueueFull, o.StoreOffline(testOfflineMessage(t, "msg-4")))
}

func TestOfflineSkipsNonArchivable(t *testing.T) {
	o := offlineTestSetup()
	defer offlineTestTeardown()

	from, _ := jid.NewWithString("amara@aether.im/balcony", true)
	to, _ := jid.NewWithString("livia@aether.im", true)

	m := xmpp.NewElementName("message")
	m.SetID("msg-1")
	m.SetType(xmpp.GroupChatType)
	message, err := xmpp.NewMessageFromElement(m, from, to)
	require.Nil(t, err)

	require.Nil(t, o.StoreOffline(message))

	cnt, _ := storage.Instance().CountOfflineMessages("livia")
	require.Equal(t, 0, cnt)
}

func TestOfflineStorageError(t *testing.T) {
	o := offlineTestSetup()
	defer offlineTestTeardown()

	storage.ActivateMockedError()
	defer storage.DeactivateMockedError()

	require.Equal(t, memstorage.ErrMockedError, o.StoreOffline(testOfflineMessage(t, "msg-1")))
}

func TestOfflineDelivery(t *testing.T) {
	o := offlineTestSetup()
	defer offlineTestTeardown()

	require.Nil(t, o.StoreOffline(testOfflineMessage(t, "msg-1")))
	require.Nil(t, o.StoreOffline(testOfflineMessage(t, "msg-2")))

	dst := &fakeDeliverable{}
	require.Nil(t, o.DeliverOfflineMessages(dst, "livia"))
	require.Equal(t, 2, len(dst.stanzas))

	// delivery drains the queue
	cnt, _ := storage.Instance().CountOfflineMessages("livia")
	require.Equal(t, 0, cnt)

	require.Nil(t, o.DeliverOfflineMessages(dst, "livia"))
	require.Equal(t, 2, len(dst.stanzas))
}
