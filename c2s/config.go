/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"fmt"
	"strings"
	"time"

	"github.com/aether-im/aether/transport"
)

const (
	defaultTransportPort      = 5222
	defaultTransportKeepAlive = time.Duration(120) * time.Second
	defaultConnectTimeout     = time.Duration(5) * time.Second
	defaultMaxStanzaSize      = 32768
)

// ResourceConflictPolicy represents a resource conflict policy.
type ResourceConflictPolicy int

const (
	// Override represents 'override' resource conflict policy.
	Override ResourceConflictPolicy = iota

	// Reject represents 'reject' resource conflict policy.
	Reject

	// Replace represents 'replace' resource conflict policy.
	Replace
)

// TransportConfig represents a client stream transport configuration.
type TransportConfig struct {
	BindAddress string
	Port        int
	KeepAlive   time.Duration
	DirectTLS   bool
}

type transportProxy struct {
	BindAddress string `yaml:"bind_addr"`
	Port        int    `yaml:"port"`
	KeepAlive   int    `yaml:"keep_alive"`
	DirectTLS   bool   `yaml:"tls"`
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
	t.DirectTLS = p.DirectTLS
	return nil
}

// Config represents a client-to-server connection manager configuration.
type Config struct {
	ID               string
	ConnectTimeout   time.Duration
	MaxStanzaSize    int
	ResourceConflict ResourceConflictPolicy
	SASL             []string
	Transport        TransportConfig
}

type configProxy struct {
	ID               string          `yaml:"id"`
	ConnectTimeout   int             `yaml:"connect_timeout"`
	MaxStanzaSize    int             `yaml:"max_stanza_size"`
	ResourceConflict string          `yaml:"resource_conflict"`
	SASL             []string        `yaml:"sasl"`
	Transport        TransportConfig `yaml:"transport"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	cfg.ID = p.ID
	if len(cfg.ID) == 0 {
		return fmt.Errorf("c2s.Config: must specify a server identifier")
	}
	cfg.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	cfg.MaxStanzaSize = p.MaxStanzaSize
	if cfg.MaxStanzaSize == 0 {
		cfg.MaxStanzaSize = defaultMaxStanzaSize
	}
	switch rc := strings.ToLower(p.ResourceConflict); rc {
	case "override":
		cfg.ResourceConflict = Override
	case "reject":
		cfg.ResourceConflict = Reject
	case "", "replace":
		cfg.ResourceConflict = Replace
	default:
		return fmt.Errorf("c2s.Config: invalid resource_conflict option: %s", rc)
	}
	for _, sasl := range p.SASL {
		switch sasl {
		case "plain", "scram_sha_1", "scram_sha_256":
			continue
		default:
			return fmt.Errorf("c2s.Config: unrecognized SASL mechanism: %s", sasl)
		}
	}
	cfg.SASL = p.SASL
	cfg.Transport = p.Transport
	return nil
}

// streamConfig carries everything an accepted in stream needs to run.
type streamConfig struct {
	transport        transport.Transport
	connectTimeout   time.Duration
	maxStanzaSize    int
	resourceConflict ResourceConflictPolicy
	sasl             []string
	secured          bool
	onDisconnect     func(id string)
}
