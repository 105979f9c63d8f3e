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
	Serial struct {
		Port string `yaml:"port"` // device path, or "auto" for the first port
	} `yaml:"serial"`
	Quiz struct {
		Category         string `yaml:"category"`
		QuestionCount    int    `yaml:"questionCount"`
		TimeLimitSeconds int    `yaml:"timeLimitSeconds"`
		SubmitCooldown   string `yaml:"submitCooldown"`
	} `yaml:"quiz"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Player struct {
		FirstName string `yaml:"firstName"`
		Email     string `yaml:"email"`
	} `yaml:"player"`
}

// Load reads YAML config from path and fills in kiosk defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Port == "" {
		c.Serial.Port = "auto"
	}
	if c.Quiz.Category == "" {
		c.Quiz.Category = "songbirds"
	}
	if c.Quiz.QuestionCount == 0 {
		c.Quiz.QuestionCount = 5
	}
	if c.Quiz.TimeLimitSeconds == 0 {
		c.Quiz.TimeLimitSeconds = 60
	}
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
