package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
backend_url = "wss://backend.example.com/ws"
node_id = "node-1"
secret = "s3cr3t"
hostname = "host-a"
data_dir = "/var/lib/fleet"
max_connections = 50

[runtime]
binary = "nerdctl"
namespace = "fleet"

[logging]
level = "debug"
format = "json"

[[networking.networks]]
name = "lan0"
cidr = "10.10.0.0/24"
gateway = "10.10.0.1"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}

	if cfg.Server.NodeID != "node-1" {
		t.Errorf("NodeID = %q, want %q", cfg.Server.NodeID, "node-1")
	}
	if cfg.Server.MaxConnections != 50 {
		t.Errorf("MaxConnections = %d, want 50", cfg.Server.MaxConnections)
	}
	if len(cfg.Networking.Networks) != 1 || cfg.Networking.Networks[0].Name != "lan0" {
		t.Errorf("Networking.Networks = %+v, want one network named lan0", cfg.Networking.Networks)
	}
}

func TestFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
node_id = "node-1"
secret = "s3cr3t"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}

	if cfg.Storage.DefaultDiskMB != 10*1024 {
		t.Errorf("DefaultDiskMB = %d, want %d", cfg.Storage.DefaultDiskMB, 10*1024)
	}
	if cfg.Runtime.MemoryXMSPercent != 50 {
		t.Errorf("MemoryXMSPercent = %d, want 50", cfg.Runtime.MemoryXMSPercent)
	}
	if cfg.Runtime.Binary != "nerdctl" {
		t.Errorf("Binary = %q, want nerdctl", cfg.Runtime.Binary)
	}
	if cfg.Server.DataDir != "/var/lib/"+Scope {
		t.Errorf("DataDir = %q, want /var/lib/%s", cfg.Server.DataDir, Scope)
	}
	if cfg.Server.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want 100", cfg.Server.MaxConnections)
	}
}

func TestFromFileMissing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("FromFile() on missing file: want error, got nil")
	}
}

func TestFromEnvRequiresNodeID(t *testing.T) {
	t.Setenv("NODE_ID", "")
	t.Setenv("NODE_SECRET", "s3cr3t")

	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() with no NODE_ID: want error, got nil")
	}
}

func TestFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("NODE_ID", "node-1")
	t.Setenv("NODE_SECRET", "")

	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() with no NODE_SECRET: want error, got nil")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("NODE_ID", "node-1")
	t.Setenv("NODE_SECRET", "s3cr3t")
	t.Setenv("BACKEND_URL", "")
	t.Setenv("DATA_DIR", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Server.BackendURL != "ws://localhost:3000/ws" {
		t.Errorf("BackendURL = %q, want default", cfg.Server.BackendURL)
	}
	if cfg.Server.DataDir != "/var/lib/"+Scope {
		t.Errorf("DataDir = %q, want /var/lib/%s", cfg.Server.DataDir, Scope)
	}
	if cfg.Server.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want 100", cfg.Server.MaxConnections)
	}
}

func TestServerConfigStringRedacts(t *testing.T) {
	sc := ServerConfig{Secret: "top-secret", APIKey: "also-secret", NodeID: "node-1"}
	s := sc.String()

	if strings.Contains(s, "top-secret") || strings.Contains(s, "also-secret") {
		t.Errorf("ServerConfig.String() leaked a secret: %s", s)
	}
	if !strings.Contains(s, "node-1") {
		t.Errorf("ServerConfig.String() = %s, want it to include NodeID", s)
	}
}
