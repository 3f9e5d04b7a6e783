/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package sql

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/pool"
)

// Driver represents a SQL driver name.
type Driver string

const (
	// MySQLDriver represents a MySQL driver type.
	MySQLDriver Driver = "mysql"

	// PostgreSQLDriver represents a PostgreSQL driver type.
	PostgreSQLDriver Driver = "postgres"
)

var nowExpr = sq.Expr("NOW()")

// Config represents SQL storage configuration.
type Config struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
}

// Storage represents a SQL storage sub system.
type Storage struct {
	db     *sql.DB
	driver Driver
	sb     sq.StatementBuilderType
	pool   *pool.BufferPool
	doneCh chan chan bool
}

// New returns a SQL storage instance.
func New(cfg *Config, driver Driver) *Storage {
	s := &Storage{
		driver: driver,
		sb:     statementBuilder(driver),
		pool:   pool.NewBufferPool(),
		doneCh: make(chan chan bool),
	}
	var dsn string
	switch driver {
	case MySQLDriver:
		dsn = fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Database)
	case PostgreSQLDriver:
		dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", cfg.User, cfg.Password, cfg.Host, cfg.Database)
	default:
		log.Fatalf("sql: unrecognized driver: %s", driver)
	}
	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		log.Fatalf("%v", err)
		return nil
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	if err := db.Ping(); err != nil {
		log.Fatalf("%v", err)
		return nil
	}
	s.db = db
	go s.loop()
	return s
}

// Shutdown shuts down SQL storage sub system.
func (s *Storage) Shutdown() {
	ch := make(chan bool)
	s.doneCh <- ch
	<-ch
}

func (s *Storage) loop() {
	tc := time.NewTicker(time.Second * 15)
	defer tc.Stop()
	for {
		select {
		case <-tc.C:
			if err := s.db.Ping(); err != nil {
				log.Error(err)
			}
		case ch := <-s.doneCh:
			_ = s.db.Close()
			close(ch)
			return
		}
	}
}

func (s *Storage) inTransaction(f func(tx *sql.Tx) error) error {
	tx, txErr := s.db.Begin()
	if txErr != nil {
		return txErr
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func statementBuilder(driver Driver) sq.StatementBuilderType {
	if driver == PostgreSQLDriver {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
