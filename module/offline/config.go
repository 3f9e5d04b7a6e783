/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package offline

import "github.com/pkg/errors"

const defaultQueueSize = 2048

// Config represents the offline storage module configuration.
type Config struct {
	QueueSize int
	Gateway   *GatewayConfig
}

// GatewayConfig represents the offline gateway configuration.
type GatewayConfig struct {
	URL  string
	Pass string
}

type configProxy struct {
	QueueSize int `yaml:"queue_size"`
	Gateway   *struct {
		URL  string `yaml:"url"`
		Pass string `yaml:"pass"`
	} `yaml:"gateway"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.QueueSize = p.QueueSize
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if p.Gateway != nil {
		if len(p.Gateway.URL) == 0 {
			return errors.New("offline.Config: must specify a gateway url")
		}
		c.Gateway = &GatewayConfig{URL: p.Gateway.URL, Pass: p.Gateway.Pass}
	}
	return nil
}
