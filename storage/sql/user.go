/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package sql

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/aether-im/aether/storage/model"
)

// InsertOrUpdateUser inserts a new user entity into storage,
// or updates it in case it's been previously inserted.
func (s *Storage) InsertOrUpdateUser(u *model.User) error {
	q := s.sb.Insert("users").
		Columns("username", "password", "logged_out_status", "logged_out_at", "updated_at", "created_at").
		Values(u.Username, u.Password, u.LoggedOutStatus, nowExpr, nowExpr, nowExpr)

	switch s.driver {
	case PostgreSQLDriver:
		q = q.Suffix("ON CONFLICT (username) DO UPDATE SET password = $4, logged_out_status = $5, logged_out_at = $6, updated_at = NOW()",
			u.Password, u.LoggedOutStatus, u.LoggedOutAt)
	default:
		q = q.Suffix("ON DUPLICATE KEY UPDATE password = ?, logged_out_status = ?, logged_out_at = ?, updated_at = NOW()",
			u.Password, u.LoggedOutStatus, u.LoggedOutAt)
	}
	_, err := q.RunWith(s.db).Exec()
	return err
}

// DeleteUser deletes a user entity from storage.
func (s *Storage) DeleteUser(username string) error {
	return s.inTransaction(func(tx *sql.Tx) error {
		if _, err := s.sb.Delete("offline_messages").Where(sq.Eq{"username": username}).RunWith(tx).Exec(); err != nil {
			return err
		}
		if _, err := s.sb.Delete("users").Where(sq.Eq{"username": username}).RunWith(tx).Exec(); err != nil {
			return err
		}
		return nil
	})
}

// FetchUser retrieves from storage a user entity.
func (s *Storage) FetchUser(username string) (*model.User, error) {
	q := s.sb.Select("username", "password", "logged_out_status", "logged_out_at").
		From("users").
		Where(sq.Eq{"username": username})

	var usr model.User
	err := q.RunWith(s.db).QueryRow().Scan(&usr.Username, &usr.Password, &usr.LoggedOutStatus, &usr.LoggedOutAt)
	switch err {
	case nil:
		return &usr, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

// UserExists returns whether or not a user exists within storage.
func (s *Storage) UserExists(username string) (bool, error) {
	q := s.sb.Select("COUNT(*)").From("users").Where(sq.Eq{"username": username})

	var count int
	err := q.RunWith(s.db).QueryRow().Scan(&count)
	switch err {
	case nil:
		return count > 0, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, err
	}
}
