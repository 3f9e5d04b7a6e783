/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package component

import (
	"time"

	"github.com/pkg/errors"
)

const (
	defaultTransportPort  = 5275
	defaultConnectTimeout = time.Duration(5) * time.Second
	defaultMaxStanzaSize  = 131072
)

// Config represents the external component listener configuration.
type Config struct {
	BindAddress    string
	Port           int
	Secret         string
	ConnectTimeout time.Duration
	MaxStanzaSize  int
}

type configProxy struct {
	BindAddress    string `yaml:"bind_addr"`
	Port           int    `yaml:"port"`
	Secret         string `yaml:"secret"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	MaxStanzaSize  int    `yaml:"max_stanza_size"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if len(p.Secret) == 0 {
		return errors.New("component.Config: must specify a shared secret")
	}
	c.BindAddress = p.BindAddress
	c.Port = p.Port
	if c.Port == 0 {
		c.Port = defaultTransportPort
	}
	c.Secret = p.Secret
	c.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	c.MaxStanzaSize = p.MaxStanzaSize
	if c.MaxStanzaSize == 0 {
		c.MaxStanzaSize = defaultMaxStanzaSize
	}
	return nil
}
