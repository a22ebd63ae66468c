package compiler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rust-mcp/internal/inspecterr"
	"github.com/example/rust-mcp/internal/inspection"
)

// fakeCargo installs a shell script named "cargo" on PATH that writes an
// artifact file and either exits promptly or sleeps past the timeout.
func fakeCargo(t *testing.T, script string) (targetDir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake cargo script is POSIX shell only")
	}

	binDir := t.TempDir()
	cargoPath := filepath.Join(binDir, "cargo")
	require.NoError(t, os.WriteFile(cargoPath, []byte(script), 0o755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	return filepath.Join(t.TempDir(), "mcp-inspections")
}

func TestBuildArgsOrdersFlagsAroundSeparator(t *testing.T) {
	req := Request{
		ManifestPath:        "Cargo.toml",
		Package:             "demo",
		TargetTriple:        "x86_64-unknown-linux-gnu",
		OptLevel:            "2",
		Emit:                "llvm-ir",
		Unpretty:            "mir",
		AdditionalRustcArgs: []string{"--cfg", "test"},
	}
	args, _ := buildArgs(req)

	sepIdx := -1
	for i, a := range args {
		if a == "--" {
			sepIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, sepIdx, 0)

	pre := args[:sepIdx]
	post := args[sepIdx+1:]

	assert.Contains(t, pre, "--manifest-path")
	assert.Contains(t, pre, "--package")
	assert.Contains(t, pre, "--target")
	assert.NotContains(t, pre, "-Copt-level=2")

	assert.Equal(t, "-Copt-level=2", post[0])
	assert.Contains(t, post, "--emit=llvm-ir")
	assert.Contains(t, post, "-Zunpretty=mir")
	assert.Contains(t, post, "--cfg")
}

func TestRunCollectsNewArtifacts(t *testing.T) {
	targetDir := fakeCargo(t, `#!/bin/sh
mkdir -p "$CARGO_TARGET_DIR/debug/deps"
echo "new artifact" > "$CARGO_TARGET_DIR/debug/deps/demo.ll"
echo "compiled ok" 1>&2
exit 0
`)

	runner := WithTargetDir(targetDir)
	result, err := runner.Run(context.Background(), Request{Package: "demo"}, inspection.DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stderr, "compiled ok")
	require.Len(t, result.Artifacts, 1)
	assert.Contains(t, result.Artifacts[0], "demo.ll")
}

func TestRunReturnsTimeoutErrorOnDeadlineExceeded(t *testing.T) {
	targetDir := fakeCargo(t, `#!/bin/sh
sleep 5
`)

	runner := WithTargetDir(targetDir)
	limits := inspection.Limits{TimeoutSeconds: 0, MaxOutputBytes: 1 << 20, MaxOutputLines: 20_000}

	// TimeoutSeconds is whole seconds, so 0 makes the deadline expire
	// immediately, long before the sleeping child could exit.
	_, err := runner.Run(context.Background(), Request{}, limits)
	require.Error(t, err)

	var ierr *inspecterr.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, inspecterr.Timeout, ierr.Kind)
}

func TestRunNonZeroExitIsNotAGoError(t *testing.T) {
	targetDir := fakeCargo(t, `#!/bin/sh
echo "error[E0425]: cannot find value" 1>&2
exit 1
`)

	runner := WithTargetDir(targetDir)
	result, err := runner.Run(context.Background(), Request{}, inspection.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "E0425")
}

func TestCollectFilesOnMissingDirIsEmpty(t *testing.T) {
	files := collectFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Empty(t, files)
}

func TestDiffPathsOnlyReportsNewEntries(t *testing.T) {
	root := "/workspace/target"
	before := map[string]struct{}{"debug/a.o": {}}
	after := map[string]struct{}{"debug/a.o": {}, "debug/b.o": {}}

	diff := diffPaths(before, after, root)
	require.Len(t, diff, 1)
	assert.Equal(t, filepath.Join(root, "debug/b.o"), diff[0])
}
