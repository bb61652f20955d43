package config

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// Config - корневая структура конфигурации (yaml теги для парсинга)
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Node        NodeConfig        `yaml:"node"`
	Controller  ControllerConfig  `yaml:"controller"`
	Client      ClientConfig      `yaml:"client"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CoordinatorConfig points at the ZooKeeper ensemble.
type CoordinatorConfig struct {
	Servers        []string      `yaml:"servers"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type NodeConfig struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	// ReplicationQueue bounds pending replication deltas.
	ReplicationQueue int `yaml:"replication_queue"`
}

type ControllerConfig struct {
	PoolFile     string         `yaml:"pool_file"`
	HTTPAddr     string         `yaml:"http_addr"`
	StartTimeout time.Duration  `yaml:"start_timeout"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	RemoveGrace  time.Duration  `yaml:"remove_grace"`
	AckTimeout   time.Duration  `yaml:"ack_timeout"`
	Launcher     LauncherConfig `yaml:"launcher"`
}

// LauncherConfig describes how the controller starts a node process.
// Args may reference {name}, {host}, {port} and {zk}.
type LauncherConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type ClientConfig struct {
	Servers        []string      `yaml:"servers"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Coordinator: CoordinatorConfig{
			Servers:        []string{"127.0.0.1:2181"},
			Root:           "/ringkv",
			SessionTimeout: 5 * time.Second,
		},
		Node: NodeConfig{
			Host:             "127.0.0.1",
			Port:             50000,
			ReplicationQueue: 1024,
		},
		Controller: ControllerConfig{
			PoolFile:     "ringkv.pool",
			HTTPAddr:     ":8080",
			StartTimeout: 10 * time.Second,
			PollInterval: 200 * time.Millisecond,
			RemoveGrace:  2 * time.Second,
			AckTimeout:   5 * time.Second,
			Launcher: LauncherConfig{
				Command: "ssh",
				Args: []string{
					"-n", "{host}", "nohup", "ringkv", "node",
					"--name", "{name}", "--host", "{host}", "--port", "{port}", "--zk", "{zk}",
				},
			},
		},
		Client: ClientConfig{
			Servers:        []string{"127.0.0.1:50000"},
			DialTimeout:    3 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
	}
}

// Parse overlays YAML data on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Logger.Level {
	case "DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logger.level %q", c.Logger.Level)
	}
	if c.Coordinator.Root == "" || c.Coordinator.Root[0] != '/' {
		return fmt.Errorf("config: coordinator.root must be an absolute path, got %q", c.Coordinator.Root)
	}
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("config: node.port %d out of range", c.Node.Port)
	}
	if c.Controller.StartTimeout <= 0 || c.Controller.PollInterval <= 0 {
		return fmt.Errorf("config: controller timeouts must be positive")
	}
	return nil
}
