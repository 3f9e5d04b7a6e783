/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package offline

import (
	"bytes"
	"net/http"

	"github.com/aether-im/aether/pool"
	"github.com/aether-im/aether/xmpp"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// gateway forwards archived messages to an external delivery service.
type gateway interface {
	Route(msg *xmpp.Message) error
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpGateway struct {
	url    string
	pass   string
	pool   *pool.BufferPool
	cb     *gobreaker.CircuitBreaker
	client httpClient
}

func newHTTPGateway(url string, pass string) gateway {
	return &httpGateway{
		url:    url,
		pass:   pass,
		pool:   pool.NewBufferPool(),
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "offline_gateway"}),
		client: &http.Client{},
	}
}

func (g *httpGateway) Route(msg *xmpp.Message) error {
	buf := g.pool.Get()
	defer g.pool.Put(buf)
	msg.ToXML(buf, true)

	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())

	req, err := http.NewRequest(http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", g.pass)

	_, err = g.cb.Execute(func() (interface{}, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.Body != nil {
			defer func() { _ = resp.Body.Close() }()
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("offline: gateway returned status code %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
