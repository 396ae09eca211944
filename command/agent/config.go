// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/wazo-platform/wazo-websocketd/auth"
	"github.com/wazo-platform/wazo-websocketd/bus"
	"github.com/wazo-platform/wazo-websocketd/websocketd"
)

// DefaultConfigFile is where the daemon looks for its main configuration
// when -config-file is not given.
const DefaultConfigFile = "/etc/wazo-websocketd/config.yml"

// Config is the configuration for the websocketd agent. It is merged from
// built-in defaults, the main config file, every YAML file in the extra
// config directory and finally the command line flags.
type Config struct {
	// UUID identifies this installation. Events whose origin_uuid header
	// differs are never delivered to per-user sessions. Falls back to the
	// XIVO_UUID environment variable when unset.
	UUID string `yaml:"uuid"`

	// Debug forces the log level to trace.
	Debug bool `yaml:"debug"`

	// LogLevel is one of "trace", "debug", "info", "warn", "error" or the
	// legacy name "critical".
	LogLevel string `yaml:"log_level"`

	// LogFile receives a copy of the log output in addition to stderr.
	// Logging to the file is disabled when empty.
	LogFile string `yaml:"log_file"`

	// User is the account the daemon switches to after binding its
	// listening socket. No switch happens when empty or when the process
	// is not root.
	User string `yaml:"user"`

	// ExtraConfigFiles is a directory of YAML overlays applied on top of
	// the main config file in lexical order.
	ExtraConfigFiles string `yaml:"extra_config_files"`

	Websocket *WebsocketConfig `yaml:"websocket"`
	Bus       *BusConfig       `yaml:"bus"`
	Auth      *AuthConfig      `yaml:"auth"`

	// AuthCheckStrategy selects how sessions watch their token for
	// expiry, either "static" or "dynamic".
	AuthCheckStrategy string `yaml:"auth_check_strategy"`

	// AuthCheckStaticInterval is the static strategy's check period in
	// seconds.
	AuthCheckStaticInterval int `yaml:"auth_check_static_interval"`

	// ProcessWorkers is the number of worker processes sharing the
	// listening port, or "auto" for one per schedulable CPU.
	ProcessWorkers WorkerCount `yaml:"process_workers"`

	// WorkerConnections is the number of AMQP connections each worker
	// pools; sessions are spread over them round-robin.
	WorkerConnections int `yaml:"worker_connections"`

	// Files is the list of config files loaded, in load order.
	Files []string `yaml:"-"`
}

// WebsocketConfig configures the WebSocket listener.
type WebsocketConfig struct {
	Listen string `yaml:"listen"`
	Port   int    `yaml:"port"`

	// Certificate and PrivateKey enable TLS when both are set.
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`

	// PingInterval is the WebSocket keepalive ping period in seconds.
	PingInterval int `yaml:"ping_interval"`
}

// BusConfig configures the AMQP broker connection.
type BusConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	Vhost            string `yaml:"vhost"`
	ExchangeName     string `yaml:"exchange_name"`
	ExchangeType     string `yaml:"exchange_type"`
	ConsumerPrefetch int    `yaml:"consumer_prefetch"`
}

// AuthConfig configures the wazo-auth client.
type AuthConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
	HTTPS  bool   `yaml:"https"`

	// KeyFile holds the service_id/service_key pair used to mint the
	// daemon's own service token.
	KeyFile string `yaml:"key_file"`
}

// WorkerCount is a worker process count that may be spelled "auto" in YAML,
// meaning one worker per schedulable CPU.
type WorkerCount struct {
	Auto  bool
	Count int
}

func (w *WorkerCount) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		if v != "auto" {
			return fmt.Errorf("invalid process_workers value %q", v)
		}
		w.Auto, w.Count = true, 0
	case int:
		w.Auto, w.Count = false, v
	default:
		return fmt.Errorf("process_workers must be an integer or \"auto\"")
	}
	return nil
}

func (w WorkerCount) MarshalYAML() (interface{}, error) {
	if w.Auto {
		return "auto", nil
	}
	return w.Count, nil
}

// Resolve returns the concrete worker count, probing the CPU affinity mask
// when the count is "auto".
func (w WorkerCount) Resolve() (int, error) {
	if !w.Auto {
		return w.Count, nil
	}
	return websocketd.AutoWorkerCount()
}

// DefaultConfig is the agent configuration shipped in the Debian package.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		LogFile:          "/var/log/wazo-websocketd.log",
		User:             "wazo-websocketd",
		ExtraConfigFiles: "/etc/wazo-websocketd/conf.d/",
		Websocket: &WebsocketConfig{
			Listen:       "0.0.0.0",
			Port:         9502,
			PingInterval: 60,
		},
		Bus: &BusConfig{
			Host:             "localhost",
			Port:             5672,
			Username:         "guest",
			Password:         "guest",
			Vhost:            "/",
			ExchangeName:     "wazo-headers",
			ExchangeType:     "headers",
			ConsumerPrefetch: 250,
		},
		Auth: &AuthConfig{
			Host:    "localhost",
			Port:    9497,
			KeyFile: "/var/lib/wazo-auth-keys/wazo-websocketd-key.yml",
		},
		AuthCheckStrategy:       "static",
		AuthCheckStaticInterval: 60,
		ProcessWorkers:          WorkerCount{Auto: true},
		WorkerConnections:       2,
	}
}

// Merge merges two configurations.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.UUID != "" {
		result.UUID = b.UUID
	}
	if b.Debug {
		result.Debug = true
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogFile != "" {
		result.LogFile = b.LogFile
	}
	if b.User != "" {
		result.User = b.User
	}
	if b.ExtraConfigFiles != "" {
		result.ExtraConfigFiles = b.ExtraConfigFiles
	}
	if b.AuthCheckStrategy != "" {
		result.AuthCheckStrategy = b.AuthCheckStrategy
	}
	if b.AuthCheckStaticInterval != 0 {
		result.AuthCheckStaticInterval = b.AuthCheckStaticInterval
	}
	if b.ProcessWorkers.Auto || b.ProcessWorkers.Count != 0 {
		result.ProcessWorkers = b.ProcessWorkers
	}
	if b.WorkerConnections != 0 {
		result.WorkerConnections = b.WorkerConnections
	}

	if result.Websocket == nil && b.Websocket != nil {
		ws := *b.Websocket
		result.Websocket = &ws
	} else if b.Websocket != nil {
		result.Websocket = result.Websocket.Merge(b.Websocket)
	}

	if result.Bus == nil && b.Bus != nil {
		bc := *b.Bus
		result.Bus = &bc
	} else if b.Bus != nil {
		result.Bus = result.Bus.Merge(b.Bus)
	}

	if result.Auth == nil && b.Auth != nil {
		ac := *b.Auth
		result.Auth = &ac
	} else if b.Auth != nil {
		result.Auth = result.Auth.Merge(b.Auth)
	}

	result.Files = append([]string{}, c.Files...)
	result.Files = append(result.Files, b.Files...)

	return &result
}

// Merge merges two websocket configurations.
func (w *WebsocketConfig) Merge(b *WebsocketConfig) *WebsocketConfig {
	result := *w

	if b.Listen != "" {
		result.Listen = b.Listen
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.Certificate != "" {
		result.Certificate = b.Certificate
	}
	if b.PrivateKey != "" {
		result.PrivateKey = b.PrivateKey
	}
	if b.PingInterval != 0 {
		result.PingInterval = b.PingInterval
	}

	return &result
}

// Merge merges two bus configurations.
func (b *BusConfig) Merge(o *BusConfig) *BusConfig {
	result := *b

	if o.Host != "" {
		result.Host = o.Host
	}
	if o.Port != 0 {
		result.Port = o.Port
	}
	if o.Username != "" {
		result.Username = o.Username
	}
	if o.Password != "" {
		result.Password = o.Password
	}
	if o.Vhost != "" {
		result.Vhost = o.Vhost
	}
	if o.ExchangeName != "" {
		result.ExchangeName = o.ExchangeName
	}
	if o.ExchangeType != "" {
		result.ExchangeType = o.ExchangeType
	}
	if o.ConsumerPrefetch != 0 {
		result.ConsumerPrefetch = o.ConsumerPrefetch
	}

	return &result
}

// Merge merges two auth configurations.
func (a *AuthConfig) Merge(b *AuthConfig) *AuthConfig {
	result := *a

	if b.Host != "" {
		result.Host = b.Host
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.Prefix != "" {
		result.Prefix = b.Prefix
	}
	if b.HTTPS {
		result.HTTPS = true
	}
	if b.KeyFile != "" {
		result.KeyFile = b.KeyFile
	}

	return &result
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var mErr multierror.Error

	if c.UUID == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing installation uuid (set the uuid key or the XIVO_UUID environment variable)"))
	} else if _, err := uuid.Parse(c.UUID); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid installation uuid %q: %v", c.UUID, err))
	}

	if c.Websocket == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing websocket configuration"))
	} else {
		if c.Websocket.Port <= 0 || c.Websocket.Port > 65535 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid websocket port %d", c.Websocket.Port))
		}
		if c.Websocket.PingInterval <= 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("websocket ping_interval must be positive, got %d", c.Websocket.PingInterval))
		}
		if (c.Websocket.Certificate == "") != (c.Websocket.PrivateKey == "") {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("websocket certificate and private_key must be set together"))
		}
	}

	if c.Bus == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing bus configuration"))
	} else {
		if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid bus port %d", c.Bus.Port))
		}
		if c.Bus.ExchangeName == "" {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("missing bus exchange_name"))
		}
		if c.Bus.ConsumerPrefetch < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("bus consumer_prefetch cannot be negative, got %d", c.Bus.ConsumerPrefetch))
		}
	}

	if c.Auth == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing auth configuration"))
	} else if c.Auth.Port <= 0 || c.Auth.Port > 65535 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid auth port %d", c.Auth.Port))
	}

	switch c.AuthCheckStrategy {
	case "static", "dynamic":
	default:
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid auth_check_strategy %q, must be \"static\" or \"dynamic\"", c.AuthCheckStrategy))
	}
	if c.AuthCheckStaticInterval <= 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("auth_check_static_interval must be positive, got %d", c.AuthCheckStaticInterval))
	}

	if !c.ProcessWorkers.Auto && c.ProcessWorkers.Count < 1 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("process_workers must be at least 1 or \"auto\", got %d", c.ProcessWorkers.Count))
	}
	if c.WorkerConnections < 1 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("worker_connections must be at least 1, got %d", c.WorkerConnections))
	}

	return mErr.ErrorOrNil()
}

func (c *Config) busConfig() *bus.Config {
	return &bus.Config{
		Host:             c.Bus.Host,
		Port:             c.Bus.Port,
		Username:         c.Bus.Username,
		Password:         c.Bus.Password,
		Vhost:            c.Bus.Vhost,
		ExchangeName:     c.Bus.ExchangeName,
		ExchangeType:     c.Bus.ExchangeType,
		ConsumerPrefetch: c.Bus.ConsumerPrefetch,
	}
}

func (c *Config) authClientConfig() *auth.ClientConfig {
	return &auth.ClientConfig{
		Host:   c.Auth.Host,
		Port:   c.Auth.Port,
		Prefix: c.Auth.Prefix,
		HTTPS:  c.Auth.HTTPS,
	}
}

func (c *Config) authenticatorConfig() *auth.AuthenticatorConfig {
	return &auth.AuthenticatorConfig{
		Client:              *c.authClientConfig(),
		CheckStrategy:       c.AuthCheckStrategy,
		CheckStaticInterval: c.AuthCheckStaticInterval,
	}
}

func (c *Config) serverConfig() *websocketd.Config {
	return &websocketd.Config{
		Listen:      c.Websocket.Listen,
		Port:        c.Websocket.Port,
		Certificate: c.Websocket.Certificate,
		PrivateKey:  c.Websocket.PrivateKey,
	}
}

// normalize applies environment fallbacks after all sources are merged.
func (c *Config) normalize() {
	if c.UUID == "" {
		c.UUID = os.Getenv("XIVO_UUID")
	}
}

// LoadConfig loads the configuration at the given path, regardless if
// its a file or directory.
func LoadConfig(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return LoadConfigDir(path)
	}

	cleaned := filepath.Clean(path)
	config, err := ParseConfigFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %v", cleaned, err)
	}

	config.Files = append(config.Files, cleaned)
	return config, nil
}

// LoadConfigDir loads all the configurations in the given directory
// in alphabetical order.
func LoadConfigDir(dir string) (*Config, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("configuration path must be a directory: %s", dir)
	}

	var files []string
	err = nil
	for err != io.EOF {
		var fis []os.FileInfo
		fis, err = f.Readdir(128)
		if err != nil && err != io.EOF {
			return nil, err
		}

		for _, fi := range fis {
			// Ignore directories
			if fi.IsDir() {
				continue
			}

			// Only care about files that are valid to load.
			name := fi.Name()
			skip := true
			if strings.HasSuffix(name, ".yml") {
				skip = false
			} else if strings.HasSuffix(name, ".yaml") {
				skip = false
			}
			if skip || isTemporaryFile(name) {
				continue
			}

			path := filepath.Join(dir, name)
			files = append(files, path)
		}
	}

	// Fast-path if we have no files
	if len(files) == 0 {
		return &Config{}, nil
	}

	sort.Strings(files)

	var result *Config
	for _, f := range files {
		config, err := ParseConfigFile(f)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %v", f, err)
		}
		config.Files = append(config.Files, f)

		if result == nil {
			result = config
		} else {
			result = result.Merge(config)
		}
	}

	return result, nil
}

// isTemporaryFile returns true or false depending on whether the
// provided file name is a temporary file for the following editors:
// emacs or vim.
func isTemporaryFile(name string) bool {
	return strings.HasSuffix(name, "~") || // vim
		strings.HasPrefix(name, ".#") || // emacs
		(strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")) // emacs
}
