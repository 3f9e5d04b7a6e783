/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"io/ioutil"

	"github.com/aether-im/aether/c2s"
	"github.com/aether-im/aether/component"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/module/offline"
	"github.com/aether-im/aether/s2s"
	"github.com/aether-im/aether/storage"
	"gopkg.in/yaml.v2"
)

// debugConfig represents debug server configuration.
type debugConfig struct {
	Port int `yaml:"port"`
}

// Config represents a global server configuration.
type Config struct {
	PIDFile   string            `yaml:"pid_path"`
	Debug     debugConfig       `yaml:"debug"`
	Logger    log.Config        `yaml:"logger"`
	Storage   storage.Config    `yaml:"storage"`
	Hosts     []host.Config     `yaml:"hosts"`
	Offline   offline.Config    `yaml:"offline"`
	C2S       []c2s.Config      `yaml:"c2s"`
	S2S       *s2s.Config       `yaml:"s2s"`
	Component *component.Config `yaml:"component"`
}

// FromFile loads default global configuration from
// a specified file.
func (cfg *Config) FromFile(configFile string) error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

// FromBuffer loads default global configuration from
// a specified byte buffer.
func (cfg *Config) FromBuffer(buf *bytes.Buffer) error {
	return yaml.Unmarshal(buf.Bytes(), cfg)
}
