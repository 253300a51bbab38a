package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Model struct {
		BaseURL     string  `yaml:"baseUrl"`
		Name        string  `yaml:"name"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"model"`
	Flow struct {
		// DevMode enables the condition override path. Inert in production
		// configs.
		DevMode   bool   `yaml:"devMode"`
		LessonTTL string `yaml:"lessonTtl"`
	} `yaml:"flow"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// ModelAPIKey returns the environment-supplied model endpoint credential.
func ModelAPIKey() string {
	return os.Getenv("MODEL_API_KEY")
}
