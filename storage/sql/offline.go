/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package sql

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/aether-im/aether/xmpp"
)

// InsertOfflineMessage inserts a new message element into
// user's offline queue.
func (s *Storage) InsertOfflineMessage(message xmpp.XElement, username string) error {
	q := s.sb.Insert("offline_messages").
		Columns("username", "data", "created_at").
		Values(username, message.String(), nowExpr)
	_, err := q.RunWith(s.db).Exec()
	return err
}

// CountOfflineMessages returns current length of user's offline queue.
func (s *Storage) CountOfflineMessages(username string) (int, error) {
	q := s.sb.Select("COUNT(*)").
		From("offline_messages").
		Where(sq.Eq{"username": username})

	var count int
	err := q.RunWith(s.db).QueryRow().Scan(&count)
	switch err {
	case nil:
		return count, nil
	default:
		return 0, err
	}
}

// FetchOfflineMessages retrieves from storage current user offline queue.
func (s *Storage) FetchOfflineMessages(username string) ([]xmpp.XElement, error) {
	q := s.sb.Select("data").
		From("offline_messages").
		Where(sq.Eq{"username": username}).
		OrderBy("created_at")

	rows, err := q.RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	buf.WriteString("<r>")
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		buf.WriteString(msg)
	}
	buf.WriteString("</r>")

	parser := xmpp.NewParser(buf, xmpp.DefaultMode, 0)
	rootEl, err := parser.ParseElement()
	if err != nil {
		return nil, err
	}
	return rootEl.Elements().All(), nil
}

// DeleteOfflineMessages clears a user offline queue.
func (s *Storage) DeleteOfflineMessages(username string) error {
	q := s.sb.Delete("offline_messages").Where(sq.Eq{"username": username})
	_, err := q.RunWith(s.db).Exec()
	return err
}
