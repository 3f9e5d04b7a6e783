/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleElement(t *testing.T) {
	p := NewParser(strings.NewReader(`<message id="m1" to="livia@example.org"><body>Hi!</body></message>`), DefaultMode, 0)
	el, err := p.ParseElement()
	require.Nil(t, err)
	require.NotNil(t, el)
	require.Equal(t, "message", el.Name())
	require.Equal(t, "m1", el.ID())
	body := el.Elements().Child("body")
	require.NotNil(t, body)
	require.Equal(t, "Hi!", body.Text())
}

func TestParseNestedElements(t *testing.T) {
	docSrc := `<iq id="iq-1" type="result"><query xmlns="jabber:iq:roster"><item jid="a@b"/><item jid="c@d"/></query></iq>`
	p := NewParser(strings.NewReader(docSrc), DefaultMode, 0)
	el, err := p.ParseElement()
	require.Nil(t, err)
	q := el.Elements().ChildNamespace("query", "jabber:iq:roster")
	require.NotNil(t, q)
	require.Equal(t, 2, len(q.Elements().Children("item")))
}

func TestParseStreamOpenAndClose(t *testing.T) {
	openSrc := `<?xml version="1.0"?><stream:stream xmlns:stream="http://etherx.jabber.org/streams" version="1.0">`
	p := NewParser(strings.NewReader(openSrc+`</stream:stream>`), SocketStream, 0)

	el, err := p.ParseElement()
	require.Nil(t, err) // proc inst
	require.Nil(t, el)

	el, err = p.ParseElement()
	require.Nil(t, err)
	require.NotNil(t, el)
	require.Equal(t, "stream:stream", el.Name())

	_, err = p.ParseElement()
	require.Equal(t, ErrStreamClosedByPeer, err)
}

func TestParseTooLargeStanza(t *testing.T) {
	docSrc := `<message><body>` + strings.Repeat("a", 1024) + `</body></message>`
	p := NewParser(strings.NewReader(docSrc), DefaultMode, 64)
	el, err := p.ParseElement()
	require.Nil(t, el)
	require.Equal(t, ErrTooLargeStanza, err)
}

func TestParseMalformedXML(t *testing.T) {
	p := NewParser(strings.NewReader(`<message><body></message>`), DefaultMode, 0)
	el, err := p.ParseElement()
	require.Nil(t, el)
	require.NotNil(t, err)
}
