package nbserver

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type ServerConfig struct {
	Name           string `yaml:"name" toml:"name"`
	Address        string `yaml:"address" toml:"address"`
	Port           int    `yaml:"port" toml:"port"`
	ChunkSize      int    `yaml:"chunk_size" toml:"chunk_size"`
	MaxConnections int    `yaml:"max_connections" toml:"max_connections"`
	Poller         string `yaml:"poller" toml:"poller"`
	LockOSThread   bool   `yaml:"lock_os_thread" toml:"lock_os_thread"`
	RecvBuffer     int    `yaml:"recv_buffer" toml:"recv_buffer"`
	SendBuffer     int    `yaml:"send_buffer" toml:"send_buffer"`
	ReuseAddr      bool   `yaml:"reuse_addr" toml:"reuse_addr"`
	Mode           Mode   `yaml:"mode" toml:"mode"`
	MaxBacklog     int    `yaml:"max_backlog" toml:"max_backlog"`
	RaiseNoFile    bool   `yaml:"raise_nofile" toml:"raise_nofile"`
}

type EventsConfig struct {
	KafkaBrokers string `yaml:"kafka_brokers" toml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic" toml:"kafka_topic"`
}

type StatsConfig struct {
	IntervalSec int `yaml:"interval_sec" toml:"interval_sec"`
}

type Config struct {
	Global Global       `yaml:"global" toml:"global"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Events EventsConfig `yaml:"events" toml:"events"`
	Stats  StatsConfig  `yaml:"stats" toml:"stats"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: Global{LogLevel: "info"},
		Server: ServerConfig{
			Name:       "main",
			Address:    "0.0.0.0",
			ChunkSize:  DefaultChunkSize,
			Poller:     PollerSelect,
			ReuseAddr:  true,
			Mode:       ModeBroadcast,
			MaxBacklog: DefaultMaxBacklog,
		},
	}
}

// LoadConfig reads a .toml or .yaml file over the defaults and validates it.
func LoadConfig(filePath string) (*Config, error) {
	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	switch {
	case strings.HasSuffix(filePath, ".toml"):
		err = toml.Unmarshal(file, config)
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		err = yaml.Unmarshal(file, config)
	default:
		err = fmt.Errorf("unsupported config format: %s", filePath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't parse config %s", filePath)
	}
	if err = config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", filePath)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Server.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative: %d", c.Server.MaxConnections)
	}
	if c.Server.MaxBacklog < 0 {
		return fmt.Errorf("max_backlog must not be negative: %d", c.Server.MaxBacklog)
	}
	switch c.Server.Poller {
	case PollerSelect, PollerEpoll:
	default:
		return errors.Wrap(ErrUnknownPoller, c.Server.Poller)
	}
	switch c.Server.Mode {
	case ModeEcho, ModeBroadcast:
	default:
		return fmt.Errorf("unknown mode: %s", c.Server.Mode)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogLevel() (zerolog.Level, error) {
	if c.Global.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.Global.LogLevel)
}

func (c *Config) ReactorConfig() ReactorConfig {
	return ReactorConfig{
		Name:           c.Server.Name,
		ChunkSize:      c.Server.ChunkSize,
		MaxConnections: c.Server.MaxConnections,
		LockOSThread:   c.Server.LockOSThread,
		RecvBuffer:     c.Server.RecvBuffer,
		SendBuffer:     c.Server.SendBuffer,
	}
}
