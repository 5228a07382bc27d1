package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Events   EventsConfig   `mapstructure:"events"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Location LocationConfig `mapstructure:"location"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ChatConfig struct {
	// Name is the display name of this relay instance.
	Name string `mapstructure:"name"`
	// Agent and Speaker are the initial attribution identities, replaced at
	// runtime by scenario events.
	Agent   string `mapstructure:"agent"`
	Speaker string `mapstructure:"speaker"`
	// ExternalInput disables the default agent-only filter on utterance reads.
	ExternalInput bool `mapstructure:"external_input"`
	// TimeoutMinutes is the idle-session timeout. Zero disables cookie mode.
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// Timeout returns the idle timeout as a duration; zero means cookie mode is
// disabled.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

type EventsConfig struct {
	TopicUtterance string   `mapstructure:"topic_utterance"`
	TopicsResponse []string `mapstructure:"topics_response"`
	TopicScenario  string   `mapstructure:"topic_scenario"`
	TopicDesire    string   `mapstructure:"topic_desire"`
}

type RedisConfig struct {
	// Enabled switches the event transport from in-memory channels to Redis
	// Streams.
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LocationConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Chat.TimeoutMinutes < 0 {
		return nil, fmt.Errorf("chat.timeout_minutes must not be negative, got %d", cfg.Chat.TimeoutMinutes)
	}
	if cfg.Events.TopicUtterance == "" {
		return nil, fmt.Errorf("events.topic_utterance must not be empty")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Chat
	v.SetDefault("chat.name", "chat-ui")
	v.SetDefault("chat.agent", "Leolani")
	v.SetDefault("chat.speaker", "Stranger")
	v.SetDefault("chat.external_input", false)
	v.SetDefault("chat.timeout_minutes", 0)

	// Events
	v.SetDefault("events.topic_utterance", "chat.text.in")
	v.SetDefault("events.topics_response", []string{"chat.text.out"})
	v.SetDefault("events.topic_scenario", "chat.scenario")
	v.SetDefault("events.topic_desire", "")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.group", "chatui")
	v.SetDefault("redis.consumer", "chatui-1")

	// Location
	v.SetDefault("location.url", "http://ip-api.com/json")
	v.SetDefault("location.timeout", "2s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("chat.timeout_minutes", "CHAT_TIMEOUT_MINUTES")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
}
