/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package memstorage

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aether-im/aether/storage/model"
	"github.com/aether-im/aether/xmpp"
)

// ErrMockedError will be returned by any Storage method
// when mocked error is activated.
var ErrMockedError = errors.New("storage mocked error")

// Storage represents an in-memory storage sub system.
type Storage struct {
	mockErr         uint32
	mu              sync.RWMutex
	users           map[string]*model.User
	offlineMessages map[string][]xmpp.XElement
}

// New returns a new in-memory storage instance.
func New() *Storage {
	return &Storage{
		users:           make(map[string]*model.User),
		offlineMessages: make(map[string][]xmpp.XElement),
	}
}

// Shutdown shuts down in-memory storage sub system.
func (m *Storage) Shutdown() {
}

// ActivateMockedError activates in-memory mocked error.
func (m *Storage) ActivateMockedError() {
	atomic.StoreUint32(&m.mockErr, 1)
}

// DeactivateMockedError deactivates in-memory mocked error.
func (m *Storage) DeactivateMockedError() {
	atomic.StoreUint32(&m.mockErr, 0)
}

func (m *Storage) inWriteLock(f func() error) error {
	if atomic.LoadUint32(&m.mockErr) == 1 {
		return ErrMockedError
	}
	m.mu.Lock()
	err := f()
	m.mu.Unlock()
	return err
}

func (m *Storage) inReadLock(f func() error) error {
	if atomic.LoadUint32(&m.mockErr) == 1 {
		return ErrMockedError
	}
	m.mu.RLock()
	err := f()
	m.mu.RUnlock()
	return err
}
