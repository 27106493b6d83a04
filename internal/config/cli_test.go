package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCLIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{name: "empty config", cfg: CLIConfig{}, wantErr: true},
		{name: "relative url", cfg: CLIConfig{ServerURL: "localhost:3000"}, wantErr: true},
		{name: "valid config", cfg: CLIConfig{ServerURL: "http://localhost:3000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCLI_NonExistent(t *testing.T) {
	cfg, err := LoadCLI("/nonexistent/path/config.yml")
	if err != nil {
		t.Fatalf("LoadCLI() unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadCLI() returned nil config")
	}
	if cfg.IsConfigured() {
		t.Error("LoadCLI() expected empty config for non-existent file")
	}
}

func TestCLIConfig_SaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "subdir", "config.yml")

	original := &CLIConfig{
		ServerURL: "https://guard.example.com",
		AgentID:   "ops-laptop",
		Timeout:   15 * time.Second,
	}

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Errorf("Config file has insecure permissions: %v", info.Mode())
	}

	loaded, err := LoadCLI(configPath)
	if err != nil {
		t.Fatalf("LoadCLI() error: %v", err)
	}
	if *loaded != *original {
		t.Errorf("LoadCLI() = %+v, want %+v", loaded, original)
	}
}

func TestLoadCLI_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte("not: valid: yaml: {{"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	if _, err := LoadCLI(configPath); err == nil {
		t.Error("LoadCLI() expected error for invalid YAML")
	}
}

func TestLoadCLI_Proxy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := "server_url: https://collector.example.com\nproxy:\n  https_proxy: http://proxy:3128\n  no_proxy: localhost\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadCLI(path)
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}
	if !cfg.Proxy.HasProxy() {
		t.Fatal("expected proxy to be configured")
	}
	if cfg.Proxy.HTTPSProxy != "http://proxy:3128" || cfg.Proxy.NoProxy != "localhost" {
		t.Errorf("unexpected proxy config: %+v", cfg.Proxy)
	}

	var none *ProxyConfig
	if none.HasProxy() {
		t.Error("nil proxy config must report no proxy")
	}
}
