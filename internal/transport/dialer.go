package transport

import (
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/netip"
	"net/url"
	"time"
)

// DialerConfig holds the connection level settings shared by all requests
// of a client stack.
type DialerConfig struct {
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	TLSConfig        *tls.Config
	// NoDelay controls TCP_NODELAY.
	NoDelay  bool
	Resolver *net.Resolver
	// ProxyURL is an http proxy reached with CONNECT for https targets and
	// with absolute-form requests for http targets.
	ProxyURL *url.URL

	BufferSize  int
	Pipelining  bool
	MaxPipeline int
}

// Clone returns a deep copy of the DialerConfig.
func (c *DialerConfig) Clone() *DialerConfig {
	if c == nil {
		return NewDialerConfig()
	}
	clone := *c
	if c.TLSConfig != nil {
		clone.TLSConfig = c.TLSConfig.Clone()
	}
	if c.ProxyURL != nil {
		proxyURLCopy := *c.ProxyURL
		if c.ProxyURL.User != nil {
			u := *c.ProxyURL.User
			proxyURLCopy.User = &u
		}
		clone.ProxyURL = &proxyURLCopy
	}
	return &clone
}

// NewDialerConfig creates the default configuration: TLS 1.2+ with
// forward secret suites only, HTTP/1.1 over ALPN.
func NewDialerConfig() *DialerConfig {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		NextProtos:         []string{"http/1.1"},
		ClientSessionCache: tls.NewLRUClientSessionCache(512),
	}

	return &DialerConfig{
		Timeout:          DefaultConnectTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		KeepAlive:        30 * time.Second,
		TLSConfig:        tlsConfig,
		NoDelay:          true,
		Resolver:         net.DefaultResolver,
		BufferSize:       DefaultBufferSize,
		Pipelining:       true,
		MaxPipeline:      8,
	}
}

// Configure builds the per-connection settings for peer. host is the
// authority the request targets; with tunnel set, peer is the proxy and
// the session behind it is negotiated by tunnel.
func (c *DialerConfig) Configure(peer netip.AddrPort, secure bool, host string, tunnel TunnelFactory) *Configure {
	cfg := &Configure{
		Addr:             peer,
		Secure:           secure,
		InBufferSize:     c.BufferSize,
		OutBufferSize:    c.BufferSize,
		ConnectTimeout:   c.Timeout,
		HandshakeTimeout: c.HandshakeTimeout,
		NoDelay:          c.NoDelay,
		KeepAlive:        c.KeepAlive,
		Pipelining:       c.Pipelining,
		MaxPipeline:      c.MaxPipeline,
	}
	if tunnel != nil {
		cfg.Tunnel = tunnel
		cfg.TunnelTarget = host
	}
	if secure {
		tlsConfig := c.TLSConfig
		if tlsConfig == nil {
			tlsConfig = NewDialerConfig().TLSConfig
		}
		tlsConfig = tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = ServerName(host)
		}
		cfg.TLS = tlsConfig
		cfg.ServerName = tlsConfig.ServerName
	}
	return cfg
}

// ServerName returns the name certificates are verified against. For IP
// literals crypto/tls sends no SNI but still checks the IP SANs.
func ServerName(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}
	if len(host) > 0 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	return host
}

// ProxyAuthorization returns the Basic credentials carried by the proxy
// URL, or "" when it has none.
func ProxyAuthorization(proxyURL *url.URL) string {
	if proxyURL == nil || proxyURL.User == nil {
		return ""
	}
	password, _ := proxyURL.User.Password()
	auth := proxyURL.User.Username() + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
}
