package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultAPIVersion is the VK API version the bridge speaks.
	DefaultAPIVersion = "5.124"
	// DefaultPollWaitSeconds is the long-poll hold duration requested from VK.
	DefaultPollWaitSeconds = 25
)

// ErrMissing marks a fatal configuration gap detected at startup.
var ErrMissing = errors.New("missing required configuration")

// Config is the root runtime configuration loaded from config.json with
// environment overrides applied on top.
type Config struct {
	Rabbit  RabbitConfig  `json:"rabbit"`
	Queues  QueuesConfig  `json:"queues"`
	VK      VKConfig      `json:"vk"`
	Bridge  BridgeConfig  `json:"bridge,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// RabbitConfig configures the RabbitMQ broker connection.
type RabbitConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// QueuesConfig names the broker endpoints the bridge talks to.
type QueuesConfig struct {
	// BotMessage is the queue of inbound send requests.
	BotMessage string `json:"bot_message"`
	// MessageStatus is the exchange receiving delivery reports.
	MessageStatus string `json:"message_status"`
	// HumanMessage is the exchange receiving relayed chat events.
	HumanMessage string `json:"human_message"`
}

// VKConfig configures the VK community client.
type VKConfig struct {
	Token           string `json:"token"`
	GroupID         int64  `json:"group_id"`
	APIVersion      string `json:"api_version,omitempty"`
	PollWaitSeconds int    `json:"poll_wait_seconds,omitempty"`
}

// BridgeConfig configures the health endpoint bind settings.
type BridgeConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// envOverrides mirrors the environment surface of the original deployment.
type envOverrides struct {
	RabbitHost    string `env:"RABBIT_HOST"`
	RabbitPort    int    `env:"RABBIT_PORT"`
	BotMessage    string `env:"BOT_MESSAGE"`
	MessageStatus string `env:"MESSAGE_STATUS"`
	HumanMessage  string `env:"HUMAN_MESSAGE"`
	VKToken       string `env:"VK_TOKEN"`
	VKGroupID     int64  `env:"VK_GROUP_ID"`
}

// LoadConfig resolves config.json if present, unmarshals it, and applies
// environment overrides. A missing config file is not an error: the original
// deployment configured everything through the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.VK.APIVersion == "" {
		cfg.VK.APIVersion = DefaultAPIVersion
	}
	if cfg.VK.PollWaitSeconds <= 0 {
		cfg.VK.PollWaitSeconds = DefaultPollWaitSeconds
	}

	return cfg, nil
}

// Validate fails fast when a setting both units depend on is absent.
func (c *Config) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Rabbit.Host) == "" {
		missing = append(missing, "rabbit.host (RABBIT_HOST)")
	}
	if c.Rabbit.Port <= 0 {
		missing = append(missing, "rabbit.port (RABBIT_PORT)")
	}
	if strings.TrimSpace(c.Queues.BotMessage) == "" {
		missing = append(missing, "queues.bot_message (BOT_MESSAGE)")
	}
	if strings.TrimSpace(c.Queues.MessageStatus) == "" {
		missing = append(missing, "queues.message_status (MESSAGE_STATUS)")
	}
	if strings.TrimSpace(c.Queues.HumanMessage) == "" {
		missing = append(missing, "queues.human_message (HUMAN_MESSAGE)")
	}
	if strings.TrimSpace(c.VK.Token) == "" {
		missing = append(missing, "vk.token (VK_TOKEN)")
	}
	if c.VK.GroupID == 0 {
		missing = append(missing, "vk.group_id (VK_GROUP_ID)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	return nil
}

// AMQPURL derives the broker dial URL from host/port and optional credentials.
func (c *Config) AMQPURL() string {
	auth := ""
	if c.Rabbit.User != "" {
		auth = c.Rabbit.User
		if c.Rabbit.Password != "" {
			auth += ":" + c.Rabbit.Password
		}
		auth += "@"
	}

	return "amqp://" + auth + c.Rabbit.Host + ":" + strconv.Itoa(c.Rabbit.Port) + "/"
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if overrides.RabbitHost != "" {
		cfg.Rabbit.Host = strings.TrimSpace(overrides.RabbitHost)
	}
	if overrides.RabbitPort > 0 {
		cfg.Rabbit.Port = overrides.RabbitPort
	}
	if overrides.BotMessage != "" {
		cfg.Queues.BotMessage = strings.TrimSpace(overrides.BotMessage)
	}
	if overrides.MessageStatus != "" {
		cfg.Queues.MessageStatus = strings.TrimSpace(overrides.MessageStatus)
	}
	if overrides.HumanMessage != "" {
		cfg.Queues.HumanMessage = strings.TrimSpace(overrides.HumanMessage)
	}
	if overrides.VKToken != "" {
		cfg.VK.Token = strings.TrimSpace(overrides.VKToken)
	}
	if overrides.VKGroupID != 0 {
		cfg.VK.GroupID = overrides.VKGroupID
	}

	return nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is VKBRIDGE_CONFIG first, then cwd-local fallback paths. An
// empty result means "environment only".
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("VKBRIDGE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("VKBRIDGE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
