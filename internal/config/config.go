// Package config reads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Database struct {
		URL     string `yaml:"url"`
		Migrate bool   `yaml:"migrate"`
		Dir     string `yaml:"migrationsDir"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Rate struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate"`
	Webhooks struct {
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"webhooks"`
	Engine struct {
		Workers  int `yaml:"workers"`
		MaxNodes int `yaml:"maxNodes"`
	} `yaml:"engine"`
	Auth struct {
		Mode       string `yaml:"mode"`
		HMACSecret string `yaml:"hmacSecret"`
	} `yaml:"auth"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Database.Migrate = true
	c.Database.Dir = "db/migrations"
	c.Rate.RPS = 20
	c.Rate.Burst = 40
	c.Webhooks.MaxAttempts = 10
	c.Engine.MaxNodes = 5000
	c.Auth.Mode = "dev"
	return c
}

// Load reads path (skipped when empty) on top of Default and then applies
// environment overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		c.Database.URL = v
	}
	if v := getenv("DB_MIGRATE"); v != "" {
		c.Database.Migrate = v != "false"
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("AUTH_MODE"); v != "" {
		c.Auth.Mode = v
	}
	if v := getenv("AUTH_HMAC_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil { return fmt.Errorf("RATE_RPS: %w", err) }
		c.Rate.RPS = f
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"RATE_BURST", &c.Rate.Burst},
		{"WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts},
		{"ENGINE_WORKERS", &c.Engine.Workers},
		{"MAX_NODES", &c.Engine.MaxNodes},
	}
	for _, it := range ints {
		v := getenv(it.name)
		if v == "" { continue }
		n, err := strconv.Atoi(v)
		if err != nil { return fmt.Errorf("%s: %w", it.name, err) }
		*it.dst = n
	}
	return nil
}
