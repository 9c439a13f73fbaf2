// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Reactor() ReactorConfig
	Network() NetworkConfig
	HTTP() HTTPConfig
	Fetch() FetchConfig
	Validate() error

	// Network Setters
	SetNetworkProxy(address string)
	SetNetworkIgnoreTLSErrors(bool)
	SetNetworkPipelining(bool)

	// HTTP Setters
	SetHTTPUserAgent(string)
	SetHTTPMaxRedirects(int)
	SetHTTPDecodeBody(bool)

	// Fetch Setters
	SetFetchConcurrency(int)
	SetFetchRate(float64)
	SetFetchOutput(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ReactorCfg ReactorConfig `mapstructure:"reactor" yaml:"reactor"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	HTTPCfg    HTTPConfig    `mapstructure:"http" yaml:"http"`
	FetchCfg   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Reactor() ReactorConfig { return c.ReactorCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) HTTP() HTTPConfig       { return c.HTTPCfg }
func (c *Config) Fetch() FetchConfig     { return c.FetchCfg }

// --- Interface Method Implementations (Setters) ---

// SetNetworkProxy routes traffic through address; empty disables the proxy.
func (c *Config) SetNetworkProxy(address string)   { c.NetworkCfg.Proxy.Address = address }
func (c *Config) SetNetworkIgnoreTLSErrors(b bool) { c.NetworkCfg.IgnoreTLSErrors = b }
func (c *Config) SetNetworkPipelining(b bool)      { c.NetworkCfg.Pipelining = b }

func (c *Config) SetHTTPUserAgent(ua string) { c.HTTPCfg.UserAgent = ua }
func (c *Config) SetHTTPMaxRedirects(n int)  { c.HTTPCfg.MaxRedirects = n }
func (c *Config) SetHTTPDecodeBody(b bool)   { c.HTTPCfg.DecodeBody = b }
func (c *Config) SetFetchConcurrency(n int)  { c.FetchCfg.Concurrency = n }
func (c *Config) SetFetchRate(r float64)     { c.FetchCfg.Rate = r }
func (c *Config) SetFetchOutput(out string)  { c.FetchCfg.Output = out }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ReactorConfig sizes the event loop.
type ReactorConfig struct {
	// ControlQueueSize bounds the commands waiting for the loop thread.
	ControlQueueSize int `mapstructure:"control_queue_size" yaml:"control_queue_size"`
	// EventGrowth is how many epoll slots are added when a wait fills the
	// event array.
	EventGrowth int `mapstructure:"event_growth" yaml:"event_growth"`
}

// ProxyConfig points outbound traffic at an HTTP proxy. An empty address
// connects directly.
type ProxyConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// NetworkConfig tunes connections and the transport below the HTTP engine.
type NetworkConfig struct {
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	ResolveTimeout   time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	KeepAlive        time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	NoDelay          bool          `mapstructure:"no_delay" yaml:"no_delay"`
	BufferSize       int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	Pipelining       bool          `mapstructure:"pipelining" yaml:"pipelining"`
	MaxPipeline      int           `mapstructure:"max_pipeline" yaml:"max_pipeline"`
	IgnoreTLSErrors  bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Proxy            ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
}

// HTTPConfig holds request and response handling defaults.
type HTTPConfig struct {
	UserAgent       string            `mapstructure:"user_agent" yaml:"user_agent"`
	MaxRedirects    int               `mapstructure:"max_redirects" yaml:"max_redirects"`
	MaxHeaderBytes  int               `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	DecodeBody      bool              `mapstructure:"decode_body" yaml:"decode_body"`
	AcceptEncoding  string            `mapstructure:"accept_encoding" yaml:"accept_encoding"`
	MaxDecodedBytes int64             `mapstructure:"max_decoded_bytes" yaml:"max_decoded_bytes"`
	DisableCookies  bool              `mapstructure:"disable_cookies" yaml:"disable_cookies"`
	DefaultHeaders  map[string]string `mapstructure:"default_headers" yaml:"default_headers"`
}

// RetryConfig mirrors the client retry policy.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	Jitter         bool          `mapstructure:"jitter" yaml:"jitter"`
}

// FetchConfig drives the fetch command.
type FetchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// Rate is requests per second across all workers; 0 is unlimited.
	Rate    float64       `mapstructure:"rate" yaml:"rate"`
	Burst   int           `mapstructure:"burst" yaml:"burst"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Output  string        `mapstructure:"output" yaml:"output"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "datax")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Reactor --
	v.SetDefault("reactor.control_queue_size", 256)
	v.SetDefault("reactor.event_growth", 64)

	// -- Network --
	v.SetDefault("network.dial_timeout", "15s")
	v.SetDefault("network.handshake_timeout", "10s")
	v.SetDefault("network.resolve_timeout", "10s")
	v.SetDefault("network.keep_alive", "30s")
	v.SetDefault("network.idle_timeout", "90s")
	v.SetDefault("network.no_delay", true)
	v.SetDefault("network.buffer_size", 16<<10)
	v.SetDefault("network.pipelining", true)
	v.SetDefault("network.max_pipeline", 8)
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.proxy.address", "")

	// -- HTTP --
	v.SetDefault("http.user_agent", "datax/1.0")
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_header_bytes", 64<<10)
	v.SetDefault("http.decode_body", true)
	v.SetDefault("http.accept_encoding", "gzip, deflate, br")
	v.SetDefault("http.max_decoded_bytes", int64(64<<20))
	v.SetDefault("http.disable_cookies", false)

	// -- Fetch --
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.rate", 0.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.timeout", "60s")
	v.SetDefault("fetch.output", "text")
	v.SetDefault("fetch.retry.max_retries", 2)
	v.SetDefault("fetch.retry.initial_backoff", "500ms")
	v.SetDefault("fetch.retry.max_backoff", "10s")
	v.SetDefault("fetch.retry.backoff_factor", 2.0)
	v.SetDefault("fetch.retry.jitter", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The proxy is commonly supplied through the environment.
	if err := v.BindEnv("network.proxy.address", "DATAX_PROXY", "HTTPS_PROXY"); err != nil {
		return nil, fmt.Errorf("error binding proxy env: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.LoggerCfg.Format)
	}
	if c.ReactorCfg.ControlQueueSize <= 0 {
		return fmt.Errorf("reactor.control_queue_size must be a positive integer")
	}
	if c.ReactorCfg.EventGrowth <= 0 {
		return fmt.Errorf("reactor.event_growth must be a positive integer")
	}
	if err := c.NetworkCfg.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.HTTPCfg.Validate(); err != nil {
		return fmt.Errorf("http configuration invalid: %w", err)
	}
	if err := c.FetchCfg.Validate(); err != nil {
		return fmt.Errorf("fetch configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the network settings.
func (n *NetworkConfig) Validate() error {
	if n.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024")
	}
	if n.Pipelining && n.MaxPipeline < 1 {
		return fmt.Errorf("max_pipeline must be positive when pipelining is enabled")
	}
	if n.DialTimeout < 0 || n.HandshakeTimeout < 0 || n.ResolveTimeout < 0 || n.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if n.Proxy.Address != "" {
		u, err := url.Parse(n.Proxy.Address)
		if err != nil {
			return fmt.Errorf("proxy.address: %w", err)
		}
		if u.Scheme != "http" || u.Host == "" {
			return fmt.Errorf("proxy.address must be an http:// URL with a host")
		}
	}
	return nil
}

// Validate checks the HTTP settings.
func (h *HTTPConfig) Validate() error {
	if h.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative")
	}
	if h.MaxHeaderBytes <= 0 {
		return fmt.Errorf("max_header_bytes must be a positive integer")
	}
	if h.DecodeBody && h.MaxDecodedBytes <= 0 {
		return fmt.Errorf("max_decoded_bytes must be positive when decode_body is enabled")
	}
	return nil
}

// Validate checks the fetch command settings.
func (f *FetchConfig) Validate() error {
	if f.Concurrency < 1 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if f.Rate < 0 {
		return fmt.Errorf("rate must not be negative")
	}
	if f.Rate > 0 && f.Burst < 1 {
		return fmt.Errorf("burst must be positive when rate is set")
	}
	switch f.Output {
	case "text", "json":
	default:
		return fmt.Errorf("output must be text or json, got %q", f.Output)
	}
	if f.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if f.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1")
	}
	return nil
}
