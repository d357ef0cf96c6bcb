package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Chat struct {
		WebsocketURL string   `yaml:"websocket_url"`
		APIBaseURL   string   `yaml:"api_base_url"`
		Rooms        []string `yaml:"rooms"`

		InitialReconnectDelaySeconds int `yaml:"initial_reconnect_delay_seconds"`
		MaxReconnectAttempts         int `yaml:"max_reconnect_attempts"`
	} `yaml:"chat"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides
	config.Chat.WebsocketURL = getEnv("CHAT_WS_URL", config.Chat.WebsocketURL)
	config.Chat.APIBaseURL = getEnv("CHAT_API_URL", config.Chat.APIBaseURL)

	return &config, nil
}
