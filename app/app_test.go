/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/aether-im/aether/version"
	"github.com/stretchr/testify/require"
)

type writerBuffer struct {
	mu  sync.RWMutex
	buf *bytes.Buffer
}

func newWriterBuffer() *writerBuffer {
	return &writerBuffer{buf: bytes.NewBuffer(nil)}
}

func (wb *writerBuffer) Write(p []byte) (int, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.buf.Write(p)
}

func (wb *writerBuffer) String() string {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.buf.String()
}

func TestApplicationEmptyArgs(t *testing.T) {
	require.NotNil(t, New(nil, nil).Run())
}

func TestApplicationShowUsage(t *testing.T) {
	w := newWriterBuffer()
	require.Nil(t, New(w, []string{"./aether", "-h"}).Run())
	require.Equal(t, expectedUsageString(), w.String())
}

func TestApplicationPrintVersion(t *testing.T) {
	w := newWriterBuffer()
	require.Nil(t, New(w, []string{"./aether", "--version"}).Run())
	require.Equal(t, fmt.Sprintf("aether version: %v\n", version.ApplicationVersion), w.String())
}

func TestApplicationBadConfig(t *testing.T) {
	w := newWriterBuffer()
	err := New(w, []string{"./aether", "--config=../testdata/not_a_config.yml"}).Run()
	require.NotNil(t, err)
}

func TestApplicationRun(t *testing.T) {
	w := newWriterBuffer()
	ap := New(w, []string{"./aether", "--config=../testdata/config_basic.yml"})
	ap.shutDownWaitSecs = time.Duration(2) * time.Second
	go func() {
		time.Sleep(time.Millisecond * 1500) // wait until initialized
		ap.waitStopCh <- syscall.SIGTERM
	}()
	require.Nil(t, ap.Run())

	// make sure pid file had been created
	_, err := os.Stat("test.aether.pid")
	require.Nil(t, err)

	_ = os.Remove("test.aether.pid")
	_ = os.Remove("test.aether.log")
	_ = os.RemoveAll(".cert/")
}

func expectedUsageString() string {
	var sb strings.Builder
	for i := range logoStr {
		sb.WriteString(logoStr[i])
		sb.WriteString("\n")
	}
	sb.WriteString(usageStr)
	sb.WriteString("\n")
	return sb.String()
}
