package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPathPrefersFlagOverEnv(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	t.Setenv("RUST_MCP_CONFIG", "/env/config.toml")
	configPath = "/flag/config.toml"
	assert.Equal(t, "/flag/config.toml", getConfigPath())
}

func TestGetConfigPathFallsBackToEnv(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	t.Setenv("RUST_MCP_CONFIG", "/env/config.toml")
	configPath = ""
	assert.Equal(t, "/env/config.toml", getConfigPath())
}

func TestAbsWorkspaceRootDefaultsToCwd(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	root, err := absWorkspaceRoot(".")
	require.NoError(t, err)
	assert.Equal(t, cwd, root)
}

func TestAbsWorkspaceRootPassesThroughExplicitPath(t *testing.T) {
	root, err := absWorkspaceRoot("/tmp/some-workspace")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/some-workspace", root)
}

func TestBinaryLooksExecutableOnMissingPath(t *testing.T) {
	assert.False(t, binaryLooksExecutable(filepath.Join(t.TempDir(), "nope")))
}

func TestBinaryLooksExecutableRejectsDirectory(t *testing.T) {
	assert.False(t, binaryLooksExecutable(t.TempDir()))
}

func TestBinaryLooksExecutableAcceptsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rust-analyzer")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	assert.True(t, binaryLooksExecutable(path))
}

func TestCmdInitConfigRefusesToOverwrite(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("stale"), 0o644))

	err := cmdInitConfig()
	assert.Error(t, err)
}

func TestCmdInitConfigWritesLoadableConfig(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")

	require.NoError(t, cmdInitConfig())
	assert.FileExists(t, configPath)
}

func TestUnavailableResolverReportsCause(t *testing.T) {
	r := unavailableResolver{cause: assertError("spawn failed")}
	_, err := r.Definition("x.rs", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")

	_, err = r.TypeHierarchy("x.rs", 0, 0)
	require.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }
