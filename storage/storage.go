/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package storage

import (
	"sync"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/storage/memstorage"
	"github.com/aether-im/aether/storage/model"
	"github.com/aether-im/aether/storage/sql"
	"github.com/aether-im/aether/xmpp"
)

type userStorage interface {
	InsertOrUpdateUser(user *model.User) error
	DeleteUser(username string) error
	FetchUser(username string) (*model.User, error)
	UserExists(username string) (bool, error)
}

type offlineStorage interface {
	InsertOfflineMessage(message xmpp.XElement, username string) error
	CountOfflineMessages(username string) (int, error)
	FetchOfflineMessages(username string) ([]xmpp.XElement, error)
	DeleteOfflineMessages(username string) error
}

// Storage represents an entity storage interface.
type Storage interface {
	userStorage
	offlineStorage

	Shutdown()
}

var (
	instMu      sync.RWMutex
	inst        Storage
	initialized bool
)

// Initialize initializes storage sub system.
func Initialize(cfg *Config) {
	instMu.Lock()
	defer instMu.Unlock()
	if initialized {
		return
	}
	switch cfg.Type {
	case MySQL:
		inst = sql.New(cfg.MySQL, sql.MySQLDriver)
	case PostgreSQL:
		inst = sql.New(cfg.PostgreSQL, sql.PostgreSQLDriver)
	case Memory:
		inst = memstorage.New()
	default:
		log.Fatalf("storage: unrecognized storage type: %d", cfg.Type)
		return
	}
	initialized = true
}

// Instance returns global storage sub system.
func Instance() Storage {
	instMu.RLock()
	defer instMu.RUnlock()
	if inst == nil {
		log.Fatalf("storage: subsystem not initialized")
	}
	return inst
}

// Shutdown shuts down storage sub system.
// This method should be used only for testing purposes.
func Shutdown() {
	instMu.Lock()
	defer instMu.Unlock()
	if initialized {
		inst.Shutdown()
		inst = nil
		initialized = false
	}
}

// ActivateMockedError forces the return of ErrMockedError from current memory storage.
// This method should only be used for testing purposes.
func ActivateMockedError() {
	instMu.Lock()
	defer instMu.Unlock()
	if ms, ok := inst.(*memstorage.Storage); ok {
		ms.ActivateMockedError()
	}
}

// DeactivateMockedError disables mocked storage error from current memory storage.
// This method should only be used for testing purposes.
func DeactivateMockedError() {
	instMu.Lock()
	defer instMu.Unlock()
	if ms, ok := inst.(*memstorage.Storage); ok {
		ms.DeactivateMockedError()
	}
}
