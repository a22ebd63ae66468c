// Package config provides configuration management for the inspection service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration, decoded from a TOML file and
// layered over DefaultConfig.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Inspection InspectionConfig `toml:"inspection"`
	Gating     GatingConfig     `toml:"gating"`
	Toolchain  ToolchainConfig  `toml:"toolchain"`
	Logging    LoggingConfig    `toml:"logging"`
	Security   SecurityConfig   `toml:"security"`
}

// ServiceConfig controls the optional HTTP capabilities/health surface.
type ServiceConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	DataDir         string `toml:"data_dir"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
}

// InspectionConfig controls the compiler-run limits and artifact directory.
type InspectionConfig struct {
	TargetDir      string `toml:"target_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
	MaxOutputLines int    `toml:"max_output_lines"`
}

// GatingConfig controls the default nightly-view gating posture.
type GatingConfig struct {
	DefaultMode string `toml:"default_mode"`
}

// ToolchainConfig controls the external binaries the inspection pipeline
// shells out to.
type ToolchainConfig struct {
	RustcBinary        string `toml:"rustc_binary"`
	CargoBinary        string `toml:"cargo_binary"`
	RustAnalyzerPath   string `toml:"rust_analyzer_path"`
	RustAnalyzerBinary string `toml:"rust_analyzer_binary"`
}

// StringSlice accepts either a bare TOML string or an array of strings.
type StringSlice []string

// UnmarshalTOML implements toml.Unmarshaler, accepting "file" or ["file", "stdout"].
func (s *StringSlice) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = StringSlice{v}
	case []interface{}:
		out := make(StringSlice, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("output entries must be strings, got %T", item)
			}
			out = append(out, str)
		}
		*s = out
	default:
		return fmt.Errorf("unsupported type for string slice: %T", data)
	}
	return nil
}

// LoggingConfig controls the arbor-backed logging setup.
type LoggingConfig struct {
	Level      string      `toml:"level"`
	Format     string      `toml:"format"`
	Output     StringSlice `toml:"output"`
	TimeFormat string      `toml:"time_format"`
	MaxSizeMB  int         `toml:"max_size_mb"`
	MaxBackups int         `toml:"max_backups"`
	MaxAgeDays int         `toml:"max_age_days"`
	Compress   bool        `toml:"compress"`
}

// SecurityConfig controls the optional HTTP surface's auth and CORS posture.
type SecurityConfig struct {
	APIKey         string      `toml:"api_key"`
	AllowedOrigins StringSlice `toml:"allowed_origins"`
	CORSEnabled    bool        `toml:"cors_enabled"`
}

// DefaultConfig returns the default configuration with all values set.
// The environment variables MCP_SERVICE_HOST and MCP_SERVICE_PORT can
// override the host/port defaults; RUST_ANALYZER_PATH and MCP_GATING_MODE
// retain their protocol-level meaning described in the inspection package
// and are read at request time, not baked in here.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	host := "127.0.0.1"
	if envHost := os.Getenv("MCP_SERVICE_HOST"); envHost != "" {
		host = envHost
	}

	port := 8421
	if envPort := os.Getenv("MCP_SERVICE_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}

	return &Config{
		Service: ServiceConfig{
			Host:            host,
			Port:            port,
			DataDir:         dataDir,
			ShutdownTimeout: 30,
		},
		Inspection: InspectionConfig{
			TargetDir:      "target/mcp-inspections",
			TimeoutSeconds: 60,
			MaxOutputBytes: 2 * 1024 * 1024,
			MaxOutputLines: 20000,
		},
		Gating: GatingConfig{
			DefaultMode: "strict",
		},
		Toolchain: ToolchainConfig{
			RustcBinary:        "rustc",
			CargoBinary:        "cargo",
			RustAnalyzerPath:   "",
			RustAnalyzerBinary: "rust-analyzer",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     StringSlice{"stdout"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Security: SecurityConfig{
			APIKey:         "",
			AllowedOrigins: StringSlice{"http://localhost:*", "http://127.0.0.1:*"},
			CORSEnabled:    true,
		},
	}
}

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "rust-mcp")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "rust-mcp")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "rust-mcp")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "rust-mcp")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".rust-mcp")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// Load loads configuration from a file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandPaths()

	return cfg, nil
}

// LoadFromString loads configuration from a TOML string, merging with defaults.
func LoadFromString(tomlStr string) (*Config, error) {
	cfg := DefaultConfig()

	expanded := os.ExpandEnv(tomlStr)

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config string: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expandTilde := func(path string) string {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, path[2:])
		}
		return path
	}

	c.Service.DataDir = expandTilde(c.Service.DataDir)
	c.Inspection.TargetDir = expandTilde(c.Inspection.TargetDir)
	c.Toolchain.RustAnalyzerPath = expandTilde(c.Toolchain.RustAnalyzerPath)
}

// Save saves the configuration to a file in TOML format.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// WriteExampleConfig writes an example config file with comments, used by
// the init-config subcommand.
func WriteExampleConfig(path string) error {
	example := `# rust-mcp configuration file
# All values shown are defaults - uncomment and modify as needed

[service]
# Host to bind the optional HTTP capabilities/health surface to
host = "127.0.0.1"
# Port to listen on
port = 8421
# Directory for service data (logs)
# data_dir = "~/.rust-mcp"
# Graceful shutdown timeout in seconds
shutdown_timeout_seconds = 30

[inspection]
# Directory (relative to the server's working directory) compiler artifacts are emitted into
target_dir = "target/mcp-inspections"
# Compiler subprocess timeout in seconds
timeout_seconds = 60
# Maximum bytes of a single view's output before truncation
max_output_bytes = 2097152
# Maximum lines of a single view's output before truncation
max_output_lines = 20000

[gating]
# Default nightly-view gating posture: "strict" or "lenient"
default_mode = "strict"

[toolchain]
# rustc binary name or path
rustc_binary = "rustc"
# cargo binary name or path
cargo_binary = "cargo"
# Explicit rust-analyzer path (overridden at request time by RUST_ANALYZER_PATH)
# rust_analyzer_path = "/usr/local/bin/rust-analyzer"
rust_analyzer_binary = "rust-analyzer"

[logging]
# Log level: debug, info, warn, error
level = "info"
# Log format: json, text
format = "text"
# Output destinations: "stdout", "file", or both
output = ["stdout"]
# Time format for log timestamps (Go time format)
time_format = "15:04:05.000"
# Maximum log file size in MB before rotation
max_size_mb = 100
# Number of backup log files to keep
max_backups = 5
# Maximum age of log files in days
max_age_days = 30
# Compress rotated log files
compress = true

[security]
# API key required on the optional HTTP surface (empty = no auth for any client)
api_key = ""
# Allowed CORS origins for the optional HTTP surface
allowed_origins = ["http://localhost:*", "http://127.0.0.1:*"]
# Enable CORS on the optional HTTP surface
cors_enabled = true
`

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return os.WriteFile(path, []byte(example), 0644)
}

// Address returns the full address string for the optional HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// LogPath returns the path to the service log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Service.DataDir, "logs", "rust-mcp.log")
}

// EnsureDirectories creates the directories the service needs at startup.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Service.DataDir,
		filepath.Dir(c.LogPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Service.Port)
	}

	if c.Service.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout_seconds must be at least 1")
	}

	if c.Inspection.TimeoutSeconds < 1 {
		return fmt.Errorf("inspection.timeout_seconds must be at least 1")
	}

	if c.Inspection.MaxOutputBytes < 1 {
		return fmt.Errorf("inspection.max_output_bytes must be at least 1")
	}

	if c.Inspection.MaxOutputLines < 1 {
		return fmt.Errorf("inspection.max_output_lines must be at least 1")
	}

	switch strings.ToLower(c.Gating.DefaultMode) {
	case "strict", "lenient":
	default:
		return fmt.Errorf("gating.default_mode must be \"strict\" or \"lenient\", got %q", c.Gating.DefaultMode)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	clone.Logging.Output = make(StringSlice, len(c.Logging.Output))
	copy(clone.Logging.Output, c.Logging.Output)

	clone.Security.AllowedOrigins = make(StringSlice, len(c.Security.AllowedOrigins))
	copy(clone.Security.AllowedOrigins, c.Security.AllowedOrigins)

	return &clone
}
