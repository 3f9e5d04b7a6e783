/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"crypto/tls"
	"time"

	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/transport"
	"github.com/aether-im/aether/xmpp"
	"github.com/pkg/errors"
)

const (
	defaultTransportPort      = 5269
	defaultTransportKeepAlive = time.Duration(10) * time.Minute
	defaultDialTimeout        = time.Duration(15) * time.Second
	defaultConnectTimeout     = time.Duration(5) * time.Second
	defaultMaxStanzaSize      = 131072
)

// TransportConfig represents an s2s transport configuration.
type TransportConfig struct {
	BindAddress string
	Port        int
	KeepAlive   time.Duration
}

type transportProxy struct {
	BindAddress string `yaml:"bind_addr"`
	Port        int    `yaml:"port"`
	KeepAlive   int    `yaml:"keep_alive"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (t *TransportConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := transportProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	t.BindAddress = p.BindAddress
	t.Port = p.Port
	if t.Port == 0 {
		t.Port = defaultTransportPort
	}
	t.KeepAlive = time.Duration(p.KeepAlive) * time.Second
	if t.KeepAlive == 0 {
		t.KeepAlive = defaultTransportKeepAlive
	}
	return nil
}

// Config represents an s2s subsystem configuration.
type Config struct {
	DialbackSecret string
	DialTimeout    time.Duration
	ConnectTimeout time.Duration
	MaxStanzaSize  int
	Transport      TransportConfig
}

type configProxy struct {
	DialbackSecret string          `yaml:"dialback_secret"`
	DialTimeout    int             `yaml:"dial_timeout"`
	ConnectTimeout int             `yaml:"connect_timeout"`
	MaxStanzaSize  int             `yaml:"max_stanza_size"`
	Transport      TransportConfig `yaml:"transport"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.DialbackSecret = p.DialbackSecret
	if len(c.DialbackSecret) == 0 {
		return errors.New("s2s.Config: must specify a dialback secret")
	}
	c.DialTimeout = time.Duration(p.DialTimeout) * time.Second
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	c.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	c.MaxStanzaSize = p.MaxStanzaSize
	if c.MaxStanzaSize == 0 {
		c.MaxStanzaSize = defaultMaxStanzaSize
	}
	c.Transport = p.Transport
	if c.Transport.Port == 0 {
		c.Transport.Port = defaultTransportPort
	}
	if c.Transport.KeepAlive == 0 {
		c.Transport.KeepAlive = defaultTransportKeepAlive
	}
	return nil
}

type streamConfig struct {
	keyGen          *keyGen
	localDomain     string
	remoteDomain    string
	connectTimeout  time.Duration
	keepAlive       time.Duration
	tls             *tls.Config
	transport       transport.Transport
	maxStanzaSize   int
	dbVerify        xmpp.XElement
	onOutDisconnect func(s stream.S2SOut)
	onInDisconnect  func(s stream.S2SIn)
}
