// Package config loads settings for the chat binaries.
//
// Values are layered: defaults, then a .env file if present, then an optional YAML file, then
// CHAT_* environment variables. Command line flags are applied last by the binaries themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`

	// RedisURL enables cross-instance push fanout when set.
	RedisURL      string        `yaml:"redisUrl"`
	RedisChannel  string        `yaml:"redisChannel"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

type Client struct {
	ServerURL         string        `yaml:"serverUrl"`
	User              string        `yaml:"user"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

func DefaultServer() Server {
	return Server{
		Addr:          "localhost:8080",
		Database:      "chat.sqlite3",
		RedisChannel:  "chat:push",
		ShutdownGrace: 5 * time.Second,
	}
}

func DefaultClient() Client {
	return Client{
		ServerURL:         "http://127.0.0.1:8080",
		ReconnectInterval: time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// LoadServer builds the server configuration. path may be empty.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.Addr = getEnv("CHAT_ADDR", cfg.Addr)
	cfg.Database = getEnv("CHAT_DB", cfg.Database)
	cfg.RedisURL = getEnv("CHAT_REDIS_URL", cfg.RedisURL)
	cfg.RedisChannel = getEnv("CHAT_REDIS_CHANNEL", cfg.RedisChannel)
	var err error
	if cfg.ShutdownGrace, err = getDuration("CHAT_SHUTDOWN_GRACE", cfg.ShutdownGrace); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadClient builds the client configuration. path may be empty.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ServerURL = getEnv("CHAT_SERVER_URL", cfg.ServerURL)
	cfg.User = getEnv("CHAT_USER", cfg.User)
	var err error
	if cfg.ReconnectInterval, err = getDuration("CHAT_RECONNECT_INTERVAL", cfg.ReconnectInterval); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = getDuration("CHAT_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user is required")
	}
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	return nil
}

func load(path string, out any) error {
	// .env is optional, and never overrides variables already set
	_ = godotenv.Load()

	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}
