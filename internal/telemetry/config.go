package telemetry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL        string `yaml:"baseUrl"`
	AuthToken      string `yaml:"authToken"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("telemetry baseUrl required")
	}
	return cfg, nil
}
