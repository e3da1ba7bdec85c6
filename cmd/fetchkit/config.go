package main

import (
	"os"

	"github.com/always-cache/fetchkit/cache"
	loadrules "github.com/always-cache/fetchkit/pkg/load-rules"

	"gopkg.in/yaml.v3"
)

const defaultPort = 8080

type Config struct {
	Port int `yaml:"port"`
	// Namespace of derived cache keys.
	Namespace string              `yaml:"namespace"`
	Storage   cache.BackendConfig `yaml:"storage"`
	Rules     loadrules.Rules     `yaml:"rules"`
	// URLs loaded into storage before serving.
	Prefetch []string `yaml:"prefetch"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// applyFlags overrides config values with the flags that were given.
func applyFlags(config *Config) {
	if portFlag > 0 {
		config.Port = portFlag
	}
	if config.Port <= 0 {
		config.Port = defaultPort
	}
	if config.Namespace == "" {
		config.Namespace = "fetchkit"
	}
	if storageFlag != "" {
		config.Storage.Type = storageFlag
	}
	if dbFilenameFlag != "" {
		config.Storage.Path = dbFilenameFlag
	}
	if costLimitFlag > 0 {
		config.Storage.CostLimit = costLimitFlag
	}
}
