/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package storage

import (
	"errors"
	"fmt"

	"github.com/aether-im/aether/storage/sql"
)

// Type represents a storage manager type.
type Type int

const (
	// MySQL represents a MySQL storage type.
	MySQL Type = iota

	// PostgreSQL represents a PostgreSQL storage type.
	PostgreSQL

	// Memory represents an in-memory storage type.
	Memory
)

// Config represents a storage manager configuration.
type Config struct {
	Type       Type
	MySQL      *sql.Config
	PostgreSQL *sql.Config
}

type configProxy struct {
	Type       string      `yaml:"type"`
	MySQL      *sql.Config `yaml:"mysql"`
	PostgreSQL *sql.Config `yaml:"pgsql"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	switch p.Type {
	case "mysql":
		if p.MySQL == nil {
			return errors.New("storage: couldn't read MySQL configuration")
		}
		c.Type = MySQL
		c.MySQL = p.MySQL

	case "pgsql":
		if p.PostgreSQL == nil {
			return errors.New("storage: couldn't read PostgreSQL configuration")
		}
		c.Type = PostgreSQL
		c.PostgreSQL = p.PostgreSQL

	case "memory":
		c.Type = Memory

	case "":
		return errors.New("storage: unspecified storage type")

	default:
		return fmt.Errorf("storage: unrecognized storage type: %s", p.Type)
	}
	return nil
}
