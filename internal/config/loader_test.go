package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Channel.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.Channel.HeartbeatInterval)
	}
	if cfg.Channel.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.Channel.ReconnectDelay)
	}
	if cfg.Channel.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", cfg.Channel.MaxReconnectAttempts)
	}
	if cfg.Channel.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Channel.PollInterval)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studio.yaml")
	yaml := `
api:
  base_url: https://gen.example.com
  timeout: 5s
channel:
  poll_interval: 1s
  max_reconnect_attempts: 5
simulator:
  fail_keyword: "[fail]"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STUDIO_CHANNEL_POLL_INTERVAL", "750ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://gen.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout)
	}
	if cfg.Channel.PollInterval != 750*time.Millisecond {
		t.Errorf("PollInterval = %v, want env override 750ms", cfg.Channel.PollInterval)
	}
	if cfg.Channel.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.Channel.MaxReconnectAttempts)
	}
	if cfg.Simulator.FailKeyword != "[fail]" {
		t.Errorf("FailKeyword = %q", cfg.Simulator.FailKeyword)
	}
	if got := cfg.WebsocketBaseURL(); got != "wss://gen.example.com" {
		t.Errorf("WebsocketBaseURL() = %q", got)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			API: APIConfig{BaseURL: "http://localhost:8000"},
			Channel: ChannelConfig{
				HeartbeatInterval:    time.Second,
				ReconnectDelay:       time.Second,
				PollInterval:         time.Second,
				MaxReconnectAttempts: 3,
			},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"relative base", func(c *Config) { c.API.BaseURL = "/api" }, true},
		{"ftp base", func(c *Config) { c.API.BaseURL = "ftp://x" }, true},
		{"bad ws base", func(c *Config) { c.Channel.WSBaseURL = "http://x" }, true},
		{"good ws base", func(c *Config) { c.Channel.WSBaseURL = "ws://x:1" }, false},
		{"zero poll", func(c *Config) { c.Channel.PollInterval = 0 }, true},
		{"zero attempts", func(c *Config) { c.Channel.MaxReconnectAttempts = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWebsocketBaseURL(t *testing.T) {
	tests := []struct {
		api, ws, want string
	}{
		{"http://localhost:8000/", "", "ws://localhost:8000"},
		{"https://gen.example.com", "", "wss://gen.example.com"},
		{"http://localhost:8000", "ws://push.example.com/", "ws://push.example.com"},
	}
	for _, tt := range tests {
		cfg := Config{API: APIConfig{BaseURL: tt.api}, Channel: ChannelConfig{WSBaseURL: tt.ws}}
		if got := cfg.WebsocketBaseURL(); got != tt.want {
			t.Errorf("WebsocketBaseURL(%q, %q) = %q, want %q", tt.api, tt.ws, got, tt.want)
		}
	}
}
