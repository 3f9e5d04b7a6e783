/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"testing"

	"github.com/aether-im/aether/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestMessageBuild(t *testing.T) {
	j, _ := jid.New("amara", "example.org", "balcony", false)

	elem := NewElementName("iq")
	_, err := NewMessageFromElement(elem, j, j) // wrong name...
	require.NotNil(t, err)

	elem.SetName("message")
	elem.SetType("invalid")
	_, err = NewMessageFromElement(elem, j, j) // invalid type...
	require.NotNil(t, err)

	elem.SetType(ChatType)
	message, err := NewMessageFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, message.IsChat())
	require.Equal(t, j.String(), message.From())
	require.Equal(t, j.String(), message.To())
}

func TestMessageType(t *testing.T) {
	message := NewMessageType("m-1", NormalType)
	require.True(t, message.IsNormal())

	message.SetType("")
	require.True(t, message.IsNormal())

	message.SetType(HeadlineType)
	require.True(t, message.IsHeadline())

	message.SetType(GroupChatType)
	require.True(t, message.IsGroupChat())
}

func TestMessageBody(t *testing.T) {
	j, _ := jid.New("amara", "example.org", "balcony", false)

	elem := NewElementName("message")
	elem.SetType(ChatType)
	message, _ := NewMessageFromElement(elem, j, j)
	require.False(t, message.IsMessageWithBody())

	body := NewElementName("body")
	body.SetText("how are you?")
	elem.AppendElement(body)
	message, _ = NewMessageFromElement(elem, j, j)
	require.True(t, message.IsMessageWithBody())
}

func TestMessageDelay(t *testing.T) {
	message := NewMessageType("m-1", NormalType)
	message.Delay("example.org", "Offline Storage")

	delay := message.Elements().ChildNamespace("delay", "urn:xmpp:delay")
	require.NotNil(t, delay)
	require.Equal(t, "example.org", delay.Attributes().Get("from"))
	require.True(t, len(delay.Attributes().Get("stamp")) > 0)
	require.Equal(t, "Offline Storage", delay.Text())
}
