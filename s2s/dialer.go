/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/transport"
	"github.com/sony/gobreaker"
)

type srvResolveFunc func(service, proto, name string) (cname string, addrs []*net.SRV, err error)
type dialTimeoutFunc func(network, address string, timeout time.Duration) (net.Conn, error)

type dialer struct {
	cfg         *Config
	srvResolve  srvResolveFunc
	dialTimeout dialTimeoutFunc

	mu  sync.Mutex
	cbs map[string]*gobreaker.CircuitBreaker
}

func newDialer(cfg *Config) *dialer {
	return &dialer{
		cfg:         cfg,
		srvResolve:  net.LookupSRV,
		dialTimeout: net.DialTimeout,
		cbs:         make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *dialer) dial(localDomain, remoteDomain string) (*streamConfig, error) {
	res, err := d.breaker(remoteDomain).Execute(func() (interface{}, error) {
		return d.dialTimeout("tcp", d.resolve(remoteDomain), d.cfg.DialTimeout)
	})
	if err != nil {
		return nil, err
	}
	conn := res.(net.Conn)
	tlsConfig := &tls.Config{
		ServerName:   remoteDomain,
		Certificates: host.Certificates(),
	}
	return &streamConfig{
		keyGen:         &keyGen{secret: d.cfg.DialbackSecret},
		localDomain:    localDomain,
		remoteDomain:   remoteDomain,
		connectTimeout: d.cfg.ConnectTimeout,
		keepAlive:      d.cfg.Transport.KeepAlive,
		tls:            tlsConfig,
		transport:      transport.NewSocketTransport(conn, d.cfg.Transport.KeepAlive),
		maxStanzaSize:  d.cfg.MaxStanzaSize,
	}, nil
}

// breaker returns the per-domain circuit breaker, so a flapping remote
// server doesn't get hammered with dial attempts.
func (d *dialer) breaker(remoteDomain string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.cbs[remoteDomain]
	if cb == nil {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: remoteDomain})
		d.cbs[remoteDomain] = cb
	}
	return cb
}

func (d *dialer) resolve(remoteDomain string) string {
	_, addrs, err := d.srvResolve("xmpp-server", "tcp", remoteDomain)
	if err != nil {
		log.Warnf("srv lookup error: %v", err)
	}
	if err != nil || len(addrs) == 0 || (len(addrs) == 1 && addrs[0].Target == ".") {
		return remoteDomain + ":5269"
	}
	return strings.TrimSuffix(addrs[0].Target, ".") + ":" + strconv.Itoa(int(addrs[0].Port))
}
