package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/utils"
)

const DefaultPath = "config.json"

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

var (
	ErrConfigCreated     = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
	ErrInvalidStore      = errors.New("broker.store must be memory or mongo")
	ErrInvalidMultiplier = errors.New("client.reconnect_multiplier must not be negative")
	ErrMissingServer     = errors.New("client.server must not be empty")
)

type Database struct {
	Host               string `json:"host" toml:"host" yaml:"host"`
	Port               uint64 `json:"port" toml:"port" yaml:"port"`
	Username           string `json:"username" toml:"username" yaml:"username"`
	Password           string `json:"password" toml:"password" yaml:"password"`
	Database           string `json:"database" toml:"database" yaml:"database"`
	UseTLS             bool   `json:"use_tls" toml:"use_tls" yaml:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" toml:"connect_timeout" yaml:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" toml:"socket_timeout" yaml:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" toml:"connect_idle_timeout" yaml:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" toml:"operation_timeout" yaml:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" toml:"heartbeat" yaml:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" toml:"min_pool_size" yaml:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" toml:"max_pool_size" yaml:"max_pool_size"`
}

// Broker 代理服务器配置
type Broker struct {
	Addr               string `json:"addr" toml:"addr" yaml:"addr"`
	Store              string `json:"store" toml:"store" yaml:"store"`
	PersistentSessions bool   `json:"persistent_sessions" toml:"persistent_sessions" yaml:"persistent_sessions"`
	SessionCacheSize   int    `json:"session_cache_size" toml:"session_cache_size" yaml:"session_cache_size"`
	SessionCacheTTL    string `json:"session_cache_ttl" toml:"session_cache_ttl" yaml:"session_cache_ttl"`
	WriteTimeout       string `json:"write_timeout" toml:"write_timeout" yaml:"write_timeout"`
}

// Client 客户端会话配置
type Client struct {
	Server              string  `json:"server" toml:"server" yaml:"server"`
	ReconnectDelay      string  `json:"reconnect_delay" toml:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectMultiplier float64 `json:"reconnect_multiplier" toml:"reconnect_multiplier" yaml:"reconnect_multiplier"`
	ReconnectMaxDelay   string  `json:"reconnect_max_delay" toml:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	RequestTimeout      string  `json:"request_timeout" toml:"request_timeout" yaml:"request_timeout"`
}

type Config struct {
	Database  Database `json:"database" toml:"database" yaml:"database"`
	Broker    Broker   `json:"broker" toml:"broker" yaml:"broker"`
	Client    Client   `json:"client" toml:"client" yaml:"client"`
	DebugMode bool     `json:"debug_mode" toml:"debug_mode" yaml:"debug_mode"`
	AppName   string   `json:"app_name" toml:"app_name" yaml:"app_name"`
	LogDir    string   `json:"log_dir" toml:"log_dir" yaml:"log_dir"`
}

// Default 返回写入新配置文件时使用的默认值
func Default() Config {
	return Config{
		Database: Database{
			Host:               "localhost",
			Port:               27017,
			Database:           "sockmux",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        16,
		},
		Broker: Broker{
			Addr:             ":8080",
			Store:            StoreMemory,
			SessionCacheSize: 1024,
			SessionCacheTTL:  "10m",
			WriteTimeout:     "10s",
		},
		Client: Client{
			Server:              "http://localhost:8080",
			ReconnectDelay:      "3000ms",
			ReconnectMultiplier: 1,
			RequestTimeout:      "10s",
		},
		AppName: "sockmux",
		LogDir:  "logs",
	}
}

var (
	mu          sync.Mutex
	config      Config
	initialized = false
)

// ReadConfig reads config.json from the working directory.
func ReadConfig() (Config, error) {
	return ReadConfigFrom(DefaultPath)
}

// ReadConfigFrom decodes path by its extension (.json, .toml, .yaml, .yml).
// A missing file is created with default values and ErrConfigCreated is
// returned.
func ReadConfigFrom(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	format := strings.ToLower(filepath.Ext(path))
	bytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("read configuration file: %w", err)
		}
		defaults := Default()
		data, encErr := encode(format, defaults)
		if encErr != nil {
			return defaults, encErr
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return defaults, fmt.Errorf("create configuration file: %w", err)
		}
		return defaults, ErrConfigCreated
	}

	loaded := Default()
	if err := decode(format, bytes, &loaded); err != nil {
		return config, err
	}
	if err := loaded.Validate(); err != nil {
		return config, err
	}

	config = loaded
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	mu.Lock()
	if initialized {
		defer mu.Unlock()
		return config, nil
	}
	mu.Unlock()
	return ReadConfig()
}

func decode(format string, data []byte, out *Config) error {
	switch format {
	case ".json":
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("the configuration file does not contain valid TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("the configuration file does not contain valid YAML: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return nil
}

func encode(format string, c Config) ([]byte, error) {
	switch format {
	case ".json":
		return json.MarshalIndent(c, "", "\t")
	case ".toml":
		return toml.Marshal(c)
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func (c Config) Validate() error {
	switch c.Broker.Store {
	case StoreMemory, StoreMongo:
	default:
		return ErrInvalidStore
	}
	if c.Client.ReconnectMultiplier < 0 {
		return ErrInvalidMultiplier
	}
	if c.Client.Server == "" {
		return ErrMissingServer
	}
	return nil
}

func (c Client) ReconnectDelayDuration() time.Duration {
	return utils.ParseStringTimeOr(c.ReconnectDelay, 3*time.Second)
}

// ReconnectMaxDelayDuration is 0 (no cap) when unset.
func (c Client) ReconnectMaxDelayDuration() time.Duration {
	return utils.ParseStringTimeOr(c.ReconnectMaxDelay, 0)
}

func (c Client) RequestTimeoutDuration() time.Duration {
	return utils.ParseStringTimeOr(c.RequestTimeout, 10*time.Second)
}

func (b Broker) SessionCacheTTLDuration() time.Duration {
	return utils.ParseStringTimeOr(b.SessionCacheTTL, 10*time.Minute)
}

func (b Broker) WriteTimeoutDuration() time.Duration {
	return utils.ParseStringTimeOr(b.WriteTimeout, 10*time.Second)
}
