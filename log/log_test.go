/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var out bytes.Buffer

	l, err := newLogger(&Config{Level: DebugLevel}, &out)
	require.Nil(t, err)

	instMu.Lock()
	inst = l
	instMu.Unlock()
	defer func() {
		instMu.Lock()
		inst = nil
		instMu.Unlock()
	}()

	Debugf("debug text")
	Infof("info text")
	Warnf("warning text")
	Errorf("error text")

	time.Sleep(time.Millisecond * 150) // wait until flushed

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, 4, len(lines))
	require.True(t, strings.Contains(lines[0], "[DBG]"))
	require.True(t, strings.Contains(lines[1], "[INF]"))
	require.True(t, strings.Contains(lines[2], "[WRN]"))
	require.True(t, strings.Contains(lines[3], "[ERR]"))
}

func TestLogger_FatalExits(t *testing.T) {
	var out bytes.Buffer
	exited := false
	exitHandler = func() { exited = true }
	defer func() { exitHandler = func() { os.Exit(-1) } }()

	l, err := newLogger(&Config{Level: DebugLevel}, &out)
	require.Nil(t, err)

	instMu.Lock()
	inst = l
	instMu.Unlock()
	defer func() {
		instMu.Lock()
		inst = nil
		instMu.Unlock()
	}()

	Fatalf("fatal text")
	require.True(t, exited)
	require.True(t, strings.Contains(out.String(), "[FTL]"))
}
