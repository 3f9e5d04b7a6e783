/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package host

import (
	"crypto/tls"
	"sync"

	"github.com/aether-im/aether/log"
)

const defaultDomain = "localhost"

var (
	instMu      sync.RWMutex
	hosts       = make(map[string]tls.Certificate)
	initialized bool
)

// Initialize initializes host manager.
func Initialize(configurations []Config) {
	instMu.Lock()
	defer instMu.Unlock()
	if initialized {
		return
	}
	if len(configurations) > 0 {
		for _, h := range configurations {
			hosts[h.Name] = h.Certificate
		}
	} else {
		cer, err := loadCertificate("", "", defaultDomain)
		if err != nil {
			log.Fatalf("%v", err)
		}
		hosts[defaultDomain] = cer
	}
	initialized = true
}

// Shutdown shuts down host manager system.
// This method should be used only for testing purposes.
func Shutdown() {
	instMu.Lock()
	defer instMu.Unlock()
	if initialized {
		hosts = make(map[string]tls.Certificate)
		initialized = false
	}
}

// HostNames returns current registered domain names.
func HostNames() []string {
	instMu.RLock()
	defer instMu.RUnlock()
	var ret []string
	for n := range hosts {
		ret = append(ret, n)
	}
	return ret
}

// IsLocalHost returns true if domain is a local server domain.
func IsLocalHost(domain string) bool {
	instMu.RLock()
	defer instMu.RUnlock()
	_, ok := hosts[domain]
	return ok
}

// Certificates returns an array of all configured domain certificates.
func Certificates() []tls.Certificate {
	instMu.RLock()
	defer instMu.RUnlock()
	var certs []tls.Certificate
	for _, cer := range hosts {
		certs = append(certs, cer)
	}
	return certs
}
