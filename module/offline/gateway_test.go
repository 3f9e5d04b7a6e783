/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package offline

import (
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/aether-im/aether/xmpp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeHTTPClient struct {
	do func(req *http.Request) (*http.Response, error)
}

func (c *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.do(req)
}

func TestHTTPGatewayRoute(t *testing.T) {
	g := newHTTPGateway("http://127.0.0.1:6666", "a-secret-pass").(*httpGateway)
	fakeClient := &fakeHTTPClient{}
	g.client = fakeClient

	msg := xmpp.NewMessageType(uuid.New().String(), xmpp.ChatType)
	body := xmpp.NewElementName("body")
	body.SetText("This is an offline message!")
	msg.AppendElement(body)

	var reqBody string
	fakeClient.do = func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "application/xml", req.Header.Get("Content-Type"))
		require.Equal(t, "a-secret-pass", req.Header.Get("Authorization"))

		b, _ := ioutil.ReadAll(req.Body)
		reqBody = string(b)
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}
	require.Nil(t, g.Route(msg))
	require.Equal(t, msg.String(), reqBody)

	// non-200 responses are reported as errors
	fakeClient.do = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: http.NoBody}, nil
	}
	require.NotNil(t, g.Route(msg))

	fakeClient.do = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("mocked http error")
	}
	require.NotNil(t, g.Route(msg))
}
