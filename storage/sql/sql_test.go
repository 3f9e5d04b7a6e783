/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package sql

import (
	"errors"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/pool"
)

var errGeneric = errors.New("sql: generic storage error")

// NewMock returns a mocked SQL storage instance.
func NewMock() (*Storage, sqlmock.Sqlmock) {
	var err error
	var sqlMock sqlmock.Sqlmock

	s := &Storage{
		driver: MySQLDriver,
		sb:     statementBuilder(MySQLDriver),
		pool:   pool.NewBufferPool(),
	}
	s.db, sqlMock, err = sqlmock.New()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return s, sqlMock
}
