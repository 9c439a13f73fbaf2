// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "datax", cfg.Logger().ServiceName)
	assert.Equal(t, "green", cfg.Logger().Colors.Info)
	assert.Equal(t, 256, cfg.Reactor().ControlQueueSize)
	assert.Equal(t, 15*time.Second, cfg.Network().DialTimeout)
	assert.Equal(t, 90*time.Second, cfg.Network().IdleTimeout)
	assert.Equal(t, 16<<10, cfg.Network().BufferSize)
	assert.True(t, cfg.Network().Pipelining)
	assert.Empty(t, cfg.Network().Proxy.Address)
	assert.Equal(t, "datax/1.0", cfg.HTTP().UserAgent)
	assert.Equal(t, 10, cfg.HTTP().MaxRedirects)
	assert.Equal(t, int64(64<<20), cfg.HTTP().MaxDecodedBytes)
	assert.Equal(t, 4, cfg.Fetch().Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch().Retry.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Fetch().Retry.BackoffFactor)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"logger format", func(c *Config) { c.LoggerCfg.Format = "xml" }, "logger.format must be console or json"},
		{"control queue", func(c *Config) { c.ReactorCfg.ControlQueueSize = 0 }, "reactor.control_queue_size must be a positive integer"},
		{"event growth", func(c *Config) { c.ReactorCfg.EventGrowth = -1 }, "reactor.event_growth must be a positive integer"},
		{"buffer size", func(c *Config) { c.NetworkCfg.BufferSize = 512 }, "buffer_size must be at least 1024"},
		{"pipeline depth", func(c *Config) { c.NetworkCfg.MaxPipeline = 0 }, "max_pipeline must be positive"},
		{"negative timeout", func(c *Config) { c.NetworkCfg.DialTimeout = -time.Second }, "timeouts must not be negative"},
		{"proxy scheme", func(c *Config) { c.NetworkCfg.Proxy.Address = "socks5://127.0.0.1:1080" }, "proxy.address must be an http:// URL"},
		{"redirects", func(c *Config) { c.HTTPCfg.MaxRedirects = -1 }, "max_redirects must not be negative"},
		{"header bytes", func(c *Config) { c.HTTPCfg.MaxHeaderBytes = 0 }, "max_header_bytes must be a positive integer"},
		{"decoded bytes", func(c *Config) { c.HTTPCfg.MaxDecodedBytes = 0 }, "max_decoded_bytes must be positive"},
		{"concurrency", func(c *Config) { c.FetchCfg.Concurrency = 0 }, "concurrency must be a positive integer"},
		{"rate", func(c *Config) { c.FetchCfg.Rate = -1 }, "rate must not be negative"},
		{"burst", func(c *Config) { c.FetchCfg.Rate = 5; c.FetchCfg.Burst = 0 }, "burst must be positive"},
		{"output", func(c *Config) { c.FetchCfg.Output = "yaml" }, "output must be text or json"},
		{"retries", func(c *Config) { c.FetchCfg.Retry.MaxRetries = -1 }, "retry.max_retries must not be negative"},
		{"backoff factor", func(c *Config) { c.FetchCfg.Retry.BackoffFactor = 0.5 }, "retry.backoff_factor must be at least 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("Relaxed Combinations", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.NetworkCfg.Pipelining = false
		cfg.NetworkCfg.MaxPipeline = 0
		cfg.HTTPCfg.DecodeBody = false
		cfg.HTTPCfg.MaxDecodedBytes = 0
		cfg.NetworkCfg.Proxy.Address = "http://user:pw@proxy.local:3128"
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetNetworkProxy("http://proxy.local:8080")
	iface.SetNetworkIgnoreTLSErrors(true)
	iface.SetNetworkPipelining(false)
	iface.SetHTTPUserAgent("agent/2")
	iface.SetHTTPMaxRedirects(0)
	iface.SetHTTPDecodeBody(false)
	iface.SetFetchConcurrency(16)
	iface.SetFetchRate(2.5)
	iface.SetFetchOutput("json")

	assert.Equal(t, "http://proxy.local:8080", iface.Network().Proxy.Address)
	assert.True(t, iface.Network().IgnoreTLSErrors)
	assert.False(t, iface.Network().Pipelining)
	assert.Equal(t, "agent/2", iface.HTTP().UserAgent)
	assert.Zero(t, iface.HTTP().MaxRedirects)
	assert.False(t, iface.HTTP().DecodeBody)
	assert.Equal(t, 16, iface.Fetch().Concurrency)
	assert.Equal(t, 2.5, iface.Fetch().Rate)
	assert.Equal(t, "json", iface.Fetch().Output)
	assert.NoError(t, cfg.Validate())
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Setenv("DATAX_PROXY", "")
	t.Setenv("HTTPS_PROXY", "")

	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
network:
  buffer_size: 32768
  idle_timeout: 5s
http:
  user_agent: "crawler/3"
  default_headers:
    Accept: "text/html"
fetch:
  concurrency: 8
  retry:
    max_retries: 5
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 32768, cfg.Network().BufferSize)
		assert.Equal(t, 5*time.Second, cfg.Network().IdleTimeout)
		assert.Equal(t, "crawler/3", cfg.HTTP().UserAgent)
		// viper folds map keys to lower case.
		assert.Equal(t, map[string]string{"accept": "text/html"}, cfg.HTTP().DefaultHeaders)
		assert.Equal(t, 8, cfg.Fetch().Concurrency)
		assert.Equal(t, 5, cfg.Fetch().Retry.MaxRetries)
		// Untouched defaults survive.
		assert.Equal(t, "info", cfg.Logger().Level)
		assert.Equal(t, 2.0, cfg.Fetch().Retry.BackoffFactor)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("fetch.concurrency", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "concurrency must be a positive integer")
	})

	t.Run("Proxy From Environment", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		t.Setenv("DATAX_PROXY", "http://envproxy:3128")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "http://envproxy:3128", cfg.Network().Proxy.Address)
	})

	t.Run("Invalid Proxy From Environment", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		t.Setenv("HTTPS_PROXY", "envproxy:3128")

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proxy.address")
	})
}
