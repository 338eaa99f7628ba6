package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config covers both binaries: the hub server reads the top-level fields,
// the headless agent additionally reads Agent.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Agent AgentConfig `mapstructure:"agent"`
}

type AgentConfig struct {
	HubURL           string        `mapstructure:"hub_url"`
	STUNServers      []string      `mapstructure:"stun_servers"`
	ReconnectMin     time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	ReconnectRetries int           `mapstructure:"reconnect_retries"`
	ClassAPIBaseURL  string        `mapstructure:"class_api_base_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("agent.hub_url", "ws://localhost:5000/api/ws/signal")
	v.SetDefault("agent.stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("agent.reconnect_min", "1s")
	v.SetDefault("agent.reconnect_max", "30s")
	v.SetDefault("agent.reconnect_retries", 5)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
