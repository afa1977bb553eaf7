package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Scope names the agent's on-disk footprint: console directories under
// /tmp/<scope>(-console)/..., backups under /var/lib/<scope>/backups/...,
// and the prefix on system console lines ("[<scope>] ...").
const Scope = "fleet"

// Config is the agent's full configuration tree.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Networking NetworkingConfig `toml:"networking"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
}

// StorageConfig holds the storage manager's defaults.
type StorageConfig struct {
	DefaultDiskMB   int64 `toml:"default_disk_mb"`
	AllowOnlineGrow bool  `toml:"allow_online_grow"`
}

// ServerConfig holds the control-session identity and connection settings.
type ServerConfig struct {
	BackendURL     string `toml:"backend_url"`
	NodeID         string `toml:"node_id"`
	Secret         string `toml:"secret"`
	APIKey         string `toml:"api_key"`
	Hostname       string `toml:"hostname"`
	DataDir        string `toml:"data_dir"`
	MaxConnections int    `toml:"max_connections"`
}

// String redacts the secret and API key so the config is safe to log.
func (s ServerConfig) String() string {
	apiKey := "<none>"
	if s.APIKey != "" {
		apiKey = "[REDACTED]"
	}
	return fmt.Sprintf(
		"ServerConfig{BackendURL:%s NodeID:%s Secret:[REDACTED] APIKey:%s Hostname:%s DataDir:%s MaxConnections:%d}",
		s.BackendURL, s.NodeID, apiKey, s.Hostname, s.DataDir, s.MaxConnections,
	)
}

// RuntimeConfig names the container CLI binary the runtime driver shells
// out to, and the namespace it scopes container names under.
type RuntimeConfig struct {
	Binary           string `toml:"binary"`
	Namespace        string `toml:"namespace"`
	MemoryXMSPercent int    `toml:"memory_xms_percent"`
}

// LoggingConfig selects the global logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NetworkingConfig is the persisted mirror of every CNI network the network
// manager has created, updated, or left in place. CreateNetwork/UpdateNetwork
// write back into this list so it always reflects the conflist files on disk.
type NetworkingConfig struct {
	Networks []CNINetworkConfig `toml:"networks"`
}

// CNINetworkConfig is one resolved macvlan + host-local network definition.
type CNINetworkConfig struct {
	Name       string `toml:"name"`
	Interface  string `toml:"interface,omitempty"`
	CIDR       string `toml:"cidr,omitempty"`
	Gateway    string `toml:"gateway,omitempty"`
	RangeStart string `toml:"range_start,omitempty"`
	RangeEnd   string `toml:"range_end,omitempty"`
}

// FromFile loads and parses a TOML config file at path, then fills in
// the same defaults the environment path applies, so a file that only
// sets credentials still yields a runnable configuration.
func FromFile(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if !md.IsDefined("storage", "allow_online_grow") {
		cfg.Storage.AllowOnlineGrow = true
	}
	return &cfg, nil
}

// applyDefaults fills in whatever the config file left unset.
func (c *Config) applyDefaults() {
	if c.Server.BackendURL == "" {
		c.Server.BackendURL = "ws://localhost:3000/ws"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "/var/lib/" + Scope
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 100
	}
	if c.Server.Hostname == "" {
		if h, err := hostname(); err == nil {
			c.Server.Hostname = h
		}
	}
	if c.Runtime.Binary == "" {
		c.Runtime.Binary = "nerdctl"
	}
	if c.Runtime.Namespace == "" {
		c.Runtime.Namespace = Scope
	}
	if c.Runtime.MemoryXMSPercent == 0 {
		c.Runtime.MemoryXMSPercent = 50
	}
	if c.Storage.DefaultDiskMB == 0 {
		c.Storage.DefaultDiskMB = 10 * 1024
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Save writes cfg back to path as TOML. The network manager calls this
// after every create/update/delete so the persisted config always mirrors
// the CNI conflists on disk.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// FromEnv builds a Config from environment variables, the fallback path
// when no config file is present. NODE_ID and NODE_SECRET are required;
// everything else defaults.
func FromEnv() (*Config, error) {
	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		return nil, fmt.Errorf("NODE_ID not set")
	}
	secret := os.Getenv("NODE_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("NODE_SECRET not set")
	}

	host, err := hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	maxConns := 100
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxConns = n
		}
	}

	return &Config{
		Server: ServerConfig{
			BackendURL:     envOr("BACKEND_URL", "ws://localhost:3000/ws"),
			NodeID:         nodeID,
			Secret:         secret,
			APIKey:         os.Getenv("NODE_API_KEY"),
			Hostname:       host,
			DataDir:        envOr("DATA_DIR", "/var/lib/"+Scope),
			MaxConnections: maxConns,
		},
		Runtime: RuntimeConfig{
			Binary:           envOr("RUNTIME_BINARY", "nerdctl"),
			Namespace:        envOr("RUNTIME_NAMESPACE", Scope),
			MemoryXMSPercent: 50,
		},
		Storage: StorageConfig{
			DefaultDiskMB:   10 * 1024,
			AllowOnlineGrow: true,
		},
		Logging: LoggingConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: "json",
		},
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostname() (string, error) {
	out, err := exec.Command("hostname").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
