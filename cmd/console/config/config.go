package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ConsoleConfig struct {
	// RegistryAddress is the hex address seeding pool derivation.
	RegistryAddress string `yaml:"registry_address"`
	// StreamListenAddr serves the JSON-RPC event stream over WebSocket.
	StreamListenAddr string `yaml:"stream_listen_addr"`
	// MetricsListenAddr serves Prometheus metrics over HTTP.
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// LoadConfig reads a configuration file from the given path and unmarshals it
// into a ConsoleConfig struct.
func LoadConfig(path string) (*ConsoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ConsoleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
