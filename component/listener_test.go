/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"net"
	"testing"
	"time"

	"github.com/aether-im/aether/router"
	"github.com/stretchr/testify/require"
)

func TestListenerSocket(t *testing.T) {
	setupInTest(t)

	errCh := make(chan error)
	cfg := Config{
		BindAddress:    "127.0.0.1",
		Port:           15275,
		Secret:         testStreamSecret,
		ConnectTimeout: time.Second * 5,
		MaxStanzaSize:  32768,
	}
	l := NewListener(&cfg, New(router.NewTable()), &fakeStanzaRouter{})

	go l.Start()
	go func() {
		time.Sleep(time.Millisecond * 150)

		// test component port...
		conn, err := net.Dial("tcp", "127.0.0.1:15275")
		if err != nil {
			errCh <- err
			return
		}
		_, err = conn.Write([]byte(`<stream:stream xmlns="jabber:component:accept"
 xmlns:stream="http://etherx.jabber.org/streams" to="muc.aether.im">`))
		if err != nil {
			errCh <- err
			return
		}
		time.Sleep(time.Millisecond * 150) // wait until stream negotiation starts

		l.mu.RLock()
		registered := len(l.inStreams)
		l.mu.RUnlock()
		if registered != 1 {
			errCh <- errStreamNotRegistered
			return
		}
		l.Shutdown()
		errCh <- nil
	}()
	require.Nil(t, <-errCh)
}

var errStreamNotRegistered = net.UnknownNetworkError("expected registered in stream")
