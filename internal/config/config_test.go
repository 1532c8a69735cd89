package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
backend:
  host: loco.example.com
  port: 443
  insecureSkipVerify: true
auth:
  url: https://auth.example.com/login
  deviceUuid: deadbeef00000001
store:
  path: /var/lib/webtalk/sessions.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("server.listen: got %q", cfg.Server.Listen)
	}
	if got := cfg.Backend.Addr(); got != "loco.example.com:443" {
		t.Errorf("backend addr: got %q", got)
	}
	if !cfg.Backend.InsecureSkipVerify {
		t.Error("insecureSkipVerify not parsed")
	}
	if cfg.Auth.URL != "https://auth.example.com/login" {
		t.Errorf("auth.url: got %q", cfg.Auth.URL)
	}
	if cfg.Store.Path != "/var/lib/webtalk/sessions.db" {
		t.Errorf("store.path: got %q", cfg.Store.Path)
	}

	// Untouched fields keep their defaults.
	if cfg.Server.PublicDir != "public" {
		t.Errorf("server.publicDir default lost: %q", cfg.Server.PublicDir)
	}
	if cfg.Client.AppVersion != "11.3.0" || cfg.Client.CountryISO != "KR" {
		t.Errorf("client defaults lost: %+v", cfg.Client)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Backend.Host = "loco.example.com"
	base.Auth.URL = "https://auth.example.com/login"

	if err := base.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noHost := base
	noHost.Backend.Host = ""
	if err := noHost.Validate(); err == nil {
		t.Error("missing backend.host accepted")
	}

	badPort := base
	badPort.Backend.Port = 0
	if err := badPort.Validate(); err == nil {
		t.Error("backend.port 0 accepted")
	}

	noAuth := base
	noAuth.Auth.URL = ""
	if err := noAuth.Validate(); err == nil {
		t.Error("missing auth.url accepted")
	}
}
