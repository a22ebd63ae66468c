// Package main provides the entry point for rust-mcp.
//
// rust-mcp is a Model Context Protocol tool server exposing a Rust
// compiler's MIR, LLVM IR, and assembly output, plus LSP-derived
// definition/type information, for a given symbol or source position.
//
// Usage:
//
//	rust-mcp                   Start the MCP server (stdio mode, default)
//	rust-mcp mcp                Start the MCP server (stdio mode)
//	rust-mcp serve               Start the optional HTTP capabilities/health surface
//	rust-mcp version             Show version
//	rust-mcp status               Show toolchain/config status
//	rust-mcp init-config          Create example configuration file
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/example/rust-mcp/internal/config"
	"github.com/example/rust-mcp/internal/httpapi"
	"github.com/example/rust-mcp/internal/inspection"
	"github.com/example/rust-mcp/internal/logger"
	"github.com/example/rust-mcp/internal/lsp"
	"github.com/example/rust-mcp/internal/mcpserver"
	"github.com/example/rust-mcp/internal/orchestrator"
)

// version is set via -ldflags at build time.
var version = "dev"

var configPath string

func main() {
	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		} else if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		} else if strings.HasPrefix(arg, "-") {
			// Skip unknown flags for now
		} else if command == "" {
			command = arg
		} else {
			cmdArgs = append(cmdArgs, arg)
		}
	}

	if command == "" {
		command = "mcp"
	}

	var err error
	switch command {
	case "mcp", "mcp-server":
		err = cmdMCP(cmdArgs)
	case "serve":
		err = cmdServe(cmdArgs)
	case "version", "-v", "--version":
		cmdVersion()
	case "status":
		err = cmdStatus()
	case "init-config":
		err = cmdInitConfig()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rust-mcp - Rust compiler/LSP inspection MCP server

Usage:
  rust-mcp [flags] [command] [args]

Commands:
  mcp           Start the MCP server (stdio mode, default)
  serve         Start the optional HTTP capabilities/health surface
  version       Show version information
  status        Show toolchain/config status
  init-config   Create example configuration file
  help          Show this help

Flags:
  --config PATH   Path to configuration file (default: ~/.rust-mcp/config.toml)

Environment:
  RUST_ANALYZER_PATH   Explicit path to the rust-analyzer binary
  MCP_GATING_MODE      Default nightly-view gating posture: strict or lenient
  RUST_MCP_CONFIG      Path to configuration file (alternative to --config)

Examples:
  rust-mcp                        Start the MCP server against the current directory
  rust-mcp --config /path/to.toml mcp   Start with a custom config
  rust-mcp serve                  Start the HTTP capabilities surface
  rust-mcp init-config            Create example config file
  curl localhost:8421/health      Check service health`)
}

func cmdVersion() {
	fmt.Printf("rust-mcp version %s\n", version)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("RUST_MCP_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// cmdMCP starts the stdio MCP tool server, the system's primary mode.
func cmdMCP(args []string) error {
	workspaceRoot := "."
	if len(args) > 0 {
		workspaceRoot = args[0]
	}
	absPath, err := absWorkspaceRoot(workspaceRoot)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	log := logger.SetupLogger(cfg)

	raPath := resolveRustAnalyzerPath(cfg)
	if !binaryLooksExecutable(raPath) {
		fmt.Fprintf(os.Stderr, "[rust-mcp] Warning: rust-analyzer not found at %s.\n", raPath)
		fmt.Fprintf(os.Stderr, "[rust-mcp] Set RUST_ANALYZER_PATH, or the [toolchain] config section, to enable definition/type resolution.\n")
	}

	ictx := inspection.NewContextWithConfig(absPath, inspection.ContextConfig{
		Limits: inspection.Limits{
			TimeoutSeconds: cfg.Inspection.TimeoutSeconds,
			MaxOutputBytes: cfg.Inspection.MaxOutputBytes,
			MaxOutputLines: cfg.Inspection.MaxOutputLines,
		},
		TargetDir:        cfg.Inspection.TargetDir,
		RustcBinary:      cfg.Toolchain.RustcBinary,
		CargoBinary:      cfg.Toolchain.CargoBinary,
		RustAnalyzerPath: raPath,
	})
	if mode := cfg.Gating.DefaultMode; mode != "" && os.Getenv("MCP_GATING_MODE") == "" {
		ictx = ictx.WithGatingMode(inspection.ParseGatingMode(mode))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var resolver orchestrator.DefinitionResolver
	lspClient, err := lsp.Start(ctx, absPath, raPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[rust-mcp] Warning: could not start rust-analyzer: %v\n", err)
		fmt.Fprintf(os.Stderr, "[rust-mcp] Definition and type resolution will be unavailable.\n")
		resolver = unavailableResolver{cause: err}
	} else {
		defer lspClient.Close()
		resolver = lspClient
	}

	orch := orchestrator.New(resolver, logger.NewInspectionLogger(log))
	server := mcpserver.New(orch, ictx)

	return server.ServeStdio()
}

// cmdServe starts the optional HTTP capabilities/health surface.
func cmdServe(args []string) error {
	workspaceRoot := "."
	if len(args) > 0 {
		workspaceRoot = args[0]
	}
	absPath, err := absWorkspaceRoot(workspaceRoot)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	logger.SetupLogger(cfg)

	ictx := inspection.NewContextWithConfig(absPath, inspection.ContextConfig{
		Limits: inspection.Limits{
			TimeoutSeconds: cfg.Inspection.TimeoutSeconds,
			MaxOutputBytes: cfg.Inspection.MaxOutputBytes,
			MaxOutputLines: cfg.Inspection.MaxOutputLines,
		},
		TargetDir:        cfg.Inspection.TargetDir,
		RustcBinary:      cfg.Toolchain.RustcBinary,
		CargoBinary:      cfg.Toolchain.CargoBinary,
		RustAnalyzerPath: resolveRustAnalyzerPath(cfg),
	})
	if mode := cfg.Gating.DefaultMode; mode != "" && os.Getenv("MCP_GATING_MODE") == "" {
		ictx = ictx.WithGatingMode(inspection.ParseGatingMode(mode))
	}

	if watcher, err := inspection.NewManifestWatcher(absPath); err != nil {
		fmt.Fprintf(os.Stderr, "[rust-mcp] Warning: could not watch Cargo.toml: %v\n", err)
	} else if err := watcher.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "[rust-mcp] Warning: could not watch Cargo.toml: %v\n", err)
	} else {
		defer watcher.Stop()
	}

	httpServer := httpapi.NewServer(cfg, ictx)

	fmt.Printf("rust-mcp v%s capabilities surface started on %s\n", version, cfg.Address())
	fmt.Printf("Health: http://%s/health\n", cfg.Address())
	fmt.Printf("Capabilities: http://%s/capabilities\n", cfg.Address())

	return http.ListenAndServe(cfg.Address(), httpServer.Handler())
}

func cmdStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Config: %s\n", getConfigPath())
	fmt.Printf("Data directory: %s\n", cfg.Service.DataDir)
	fmt.Printf("Gating mode: %s\n", cfg.Gating.DefaultMode)
	fmt.Printf("Artifact directory: %s\n", cfg.Inspection.TargetDir)

	raPath := resolveRustAnalyzerPath(cfg)
	if binaryLooksExecutable(raPath) {
		fmt.Printf("rust-analyzer: %s\n", raPath)
	} else {
		fmt.Printf("rust-analyzer: not found at %s\n", raPath)
	}

	return nil
}

func cmdInitConfig() error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}

	fmt.Printf("Created example configuration: %s\n", path)
	return nil
}

// resolveRustAnalyzerPath picks the rust-analyzer binary to run: an explicit
// RUST_ANALYZER_PATH override takes precedence over cfg.Toolchain.RustAnalyzerPath
// (an operator's persisted path), which in turn takes precedence over
// cfg.Toolchain.RustAnalyzerBinary (a name to find on PATH); the package
// default applies only when none of those are set.
func resolveRustAnalyzerPath(cfg *config.Config) string {
	if path := os.Getenv("RUST_ANALYZER_PATH"); path != "" {
		return path
	}
	if cfg.Toolchain.RustAnalyzerPath != "" {
		return cfg.Toolchain.RustAnalyzerPath
	}
	if cfg.Toolchain.RustAnalyzerBinary != "" {
		return cfg.Toolchain.RustAnalyzerBinary
	}
	return lsp.RustAnalyzerPath()
}

func absWorkspaceRoot(path string) (string, error) {
	if path == "." || path == "" {
		return os.Getwd()
	}
	return path, nil
}

func binaryLooksExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// unavailableResolver degrades every definition/type-hierarchy request to
// an explicit error instead of leaving a nil *lsp.Client to panic, since
// position-based inspection is meant to degrade, not crash the server,
// when rust-analyzer cannot be started.
type unavailableResolver struct {
	cause error
}

func (r unavailableResolver) Definition(string, uint32, uint32) (*lsp.DefinitionDetails, error) {
	return nil, fmt.Errorf("rust-analyzer is unavailable: %w", r.cause)
}

func (r unavailableResolver) TypeHierarchy(string, uint32, uint32) ([]lsp.TypeHierarchyItem, error) {
	return nil, fmt.Errorf("rust-analyzer is unavailable: %w", r.cause)
}
