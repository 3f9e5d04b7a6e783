/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package memstorage

import "github.com/aether-im/aether/storage/model"

// InsertOrUpdateUser inserts a new user entity into storage,
// or updates it in case it's been previously inserted.
func (m *Storage) InsertOrUpdateUser(user *model.User) error {
	return m.inWriteLock(func() error {
		u := *user
		m.users[user.Username] = &u
		return nil
	})
}

// DeleteUser deletes a user entity from storage.
func (m *Storage) DeleteUser(username string) error {
	return m.inWriteLock(func() error {
		delete(m.users, username)
		return nil
	})
}

// FetchUser retrieves from storage a user entity.
func (m *Storage) FetchUser(username string) (*model.User, error) {
	var ret *model.User
	err := m.inReadLock(func() error {
		ret = m.users[username]
		return nil
	})
	return ret, err
}

// UserExists returns whether or not a user exists within storage.
func (m *Storage) UserExists(username string) (bool, error) {
	var ret bool
	err := m.inReadLock(func() error {
		ret = m.users[username] != nil
		return nil
	})
	return ret, err
}
