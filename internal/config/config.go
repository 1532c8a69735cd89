// Package config holds the gateway configuration types and YAML loader.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree, loaded from config.yaml.
type Config struct {
	Server  Server  `yaml:"server"`
	Backend Backend `yaml:"backend"`
	Client  Client  `yaml:"client"`
	Auth    Auth    `yaml:"auth"`
	Store   Store   `yaml:"store"`
}

// Server configures the browser-facing HTTP/WebSocket server.
type Server struct {
	Listen    string `yaml:"listen"`
	PublicDir string `yaml:"publicDir"`
}

// Backend configures the LOCO backend leg.
type Backend struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// InsecureSkipVerify disables certificate verification. The production
	// backend presents a non-standard chain, so deployments often need this;
	// it stays off unless the operator opts in.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// Addr returns the backend dial address.
func (b Backend) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Client is the device profile presented at check-in.
type Client struct {
	AppVersion string `yaml:"appVersion"`
	OS         string `yaml:"os"`
	Language   string `yaml:"language"`
	CountryISO string `yaml:"countryIso"`
	NetType    int32  `yaml:"netType"`
}

// Auth configures the identity collaborator.
type Auth struct {
	URL        string `yaml:"url"`
	DeviceUUID string `yaml:"deviceUuid"`
}

// Store configures session persistence. An empty path means in-memory only.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: Server{
			Listen:    ":8080",
			PublicDir: "public",
		},
		Backend: Backend{
			Port: 443,
		},
		Client: Client{
			AppVersion: "11.3.0",
			OS:         "android",
			Language:   "ko",
			CountryISO: "KR",
		},
		Store: Store{
			Path: "kakaowebtalk.db",
		},
	}
}

// Load reads and parses a YAML configuration file, starting from defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the gateway cannot run without.
func (c Config) Validate() error {
	if c.Backend.Host == "" {
		return errors.New("config: backend.host is required")
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return errors.Errorf("config: backend.port %d out of range", c.Backend.Port)
	}
	if c.Auth.URL == "" {
		return errors.New("config: auth.url is required")
	}
	return nil
}
