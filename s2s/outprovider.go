/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"sync"

	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/stream"
	"github.com/aether-im/aether/xmpp"
)

// OutProvider provides outgoing server-to-server streams, reusing a
// single stream per domain pair.
type OutProvider struct {
	cfg    *Config
	dialer *dialer

	mu         sync.RWMutex
	outStreams map[string]*outStream
}

// NewOutProvider returns an initialized out stream provider.
func NewOutProvider(cfg *Config) *OutProvider {
	return &OutProvider{
		cfg:        cfg,
		dialer:     newDialer(cfg),
		outStreams: make(map[string]*outStream),
	}
}

// GetOut returns the outgoing stream associated to a domain pair,
// establishing a new one if none is active.
func (p *OutProvider) GetOut(localDomain, remoteDomain string) stream.S2SOut {
	domainPair := getDomainPair(localDomain, remoteDomain)
	p.mu.RLock()
	outStm := p.outStreams[domainPair]
	p.mu.RUnlock()

	if outStm != nil {
		return outStm
	}
	p.mu.Lock()
	outStm = p.outStreams[domainPair] // 2nd check
	if outStm != nil {
		p.mu.Unlock()
		return outStm
	}
	outStm = newOutStream(localDomain, remoteDomain)
	p.outStreams[domainPair] = outStm
	p.mu.Unlock()

	log.Infof("registered s2s out stream... (domainpair: %s)", domainPair)

	go p.startOut(outStm)
	return outStm
}

// GetVerify establishes a dedicated outgoing stream to authorize a
// dialback key against the authoritative server of a remote domain.
func (p *OutProvider) GetVerify(localDomain, remoteDomain string, dbVerify xmpp.XElement) (*outStream, error) {
	cfg, err := p.dialer.dial(localDomain, remoteDomain)
	if err != nil {
		return nil, err
	}
	cfg.dbVerify = dbVerify

	outStm := newOutStream(localDomain, remoteDomain)
	if err := outStm.start(cfg); err != nil {
		return nil, err
	}
	return outStm, nil
}

// Shutdown closes every active outgoing stream.
func (p *OutProvider) Shutdown() {
	p.mu.Lock()
	outStreams := p.outStreams
	p.outStreams = make(map[string]*outStream)
	p.mu.Unlock()

	for _, outStm := range outStreams {
		outStm.Disconnect(nil)
	}
	log.Infof("%d out stream(s) closed", len(outStreams))
}

func (p *OutProvider) startOut(outStm *outStream) {
	cfg, err := p.dialer.dial(outStm.localDomain, outStm.remoteDomain)
	if err != nil {
		log.Warnf("could not dial remote domain %s: %v", outStm.remoteDomain, err)
		p.unregister(outStm)
		outStm.Disconnect(nil)
		return
	}
	cfg.onOutDisconnect = func(stm stream.S2SOut) {
		if out, ok := stm.(*outStream); ok {
			p.unregister(out)
		}
	}
	if err := outStm.start(cfg); err != nil {
		log.Error(err)
		p.unregister(outStm)
	}
}

func (p *OutProvider) unregister(outStm *outStream) {
	domainPair := outStm.ID()
	p.mu.Lock()
	if p.outStreams[domainPair] == outStm {
		delete(p.outStreams, domainPair)
	}
	p.mu.Unlock()
	log.Infof("unregistered s2s out stream... (domainpair: %s)", domainPair)
}

func getDomainPair(localDomain, remoteDomain string) string {
	return localDomain + ":" + remoteDomain
}
