// Package compiler runs `cargo rustc` with an inspection-friendly
// configuration: an isolated target directory, a bounded timeout, and
// artifact discovery via a before/after directory diff.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/rust-mcp/internal/inspecterr"
	"github.com/example/rust-mcp/internal/inspection"
)

// Runner executes `cargo rustc`, keeping build artifacts isolated under a
// configured target directory. No background process is spawned: every
// call to Run starts and fully waits on one child process.
type Runner struct {
	targetDir   string
	cargoBinary string
}

// New creates a Runner writing artifacts to the default inspection target
// directory and invoking cargo on PATH.
func New() *Runner {
	return &Runner{targetDir: inspection.DefaultTargetDir, cargoBinary: "cargo"}
}

// WithTargetDir creates a Runner writing artifacts to a custom directory.
func WithTargetDir(targetDir string) *Runner {
	return &Runner{targetDir: targetDir, cargoBinary: "cargo"}
}

// WithCargoBinary overrides the cargo binary name or path this Runner
// invokes, letting an operator's [toolchain] config section point at a
// non-PATH cargo. Returns r for chaining after WithTargetDir.
func (r *Runner) WithCargoBinary(cargoBinary string) *Runner {
	if cargoBinary != "" {
		r.cargoBinary = cargoBinary
	}
	return r
}

// Request parameterizes a single compiler invocation.
type Request struct {
	ManifestPath        string
	Package             string
	TargetTriple        string
	OptLevel            string
	Emit                string
	Unpretty            string
	AdditionalRustcArgs []string
	Env                 map[string]string
}

// Result captures everything observable about a finished compiler run.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Artifacts []string
	Command   []string
}

// Run executes `cargo rustc` per req, bounded by limits.TimeoutSeconds. On timeout
// the child is killed and reaped, and a Timeout-kind *inspecterr.Error is
// returned.
func (r *Runner) Run(ctx context.Context, req Request, limits inspection.Limits) (*Result, error) {
	if err := os.MkdirAll(r.targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating target dir %s: %w", r.targetDir, err)
	}

	before := collectFiles(r.targetDir)

	args, commandLine := buildArgs(req)

	cargoBinary := r.cargoBinary
	if cargoBinary == "" {
		cargoBinary = "cargo"
	}
	commandLine[0] = cargoBinary

	timeout := time.Duration(limits.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cargoBinary, args...)
	cmd.Env = append(os.Environ(), "CARGO_TARGET_DIR="+r.targetDir)
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capturing compiler stdout: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capturing compiler stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, inspecterr.New(inspecterr.Timeout,
				fmt.Sprintf("compiler run exceeded the %ds timeout", limits.TimeoutSeconds),
				map[string]any{"timeout_seconds": limits.TimeoutSeconds, "command": commandLine})
		}
		return nil, fmt.Errorf("running cargo rustc with inspection settings: %w", err)
	}

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})
	_ = g.Wait()

	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
		return nil, inspecterr.New(inspecterr.Timeout,
			fmt.Sprintf("compiler run exceeded the %ds timeout", limits.TimeoutSeconds),
			map[string]any{"timeout_seconds": limits.TimeoutSeconds, "command": commandLine})
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("running cargo rustc with inspection settings: %w", waitErr)
		}
	}

	after := collectFiles(r.targetDir)
	artifacts := diffPaths(before, after, r.targetDir)

	return &Result{
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Artifacts: artifacts,
		Command:   commandLine,
	}, nil
}

// buildArgs produces the cargo argument list and its display form. Flag
// order is fixed: pre-separator selection flags, the `--` separator, then
// post-separator rustc flags, then any caller-supplied extras.
func buildArgs(req Request) ([]string, []string) {
	args := []string{"rustc", "--offline"}

	if req.ManifestPath != "" {
		args = append(args, "--manifest-path", req.ManifestPath)
	}
	if req.Package != "" {
		args = append(args, "--package", req.Package)
	}
	if req.TargetTriple != "" {
		args = append(args, "--target", req.TargetTriple)
	}

	args = append(args, "--")

	if req.OptLevel != "" {
		args = append(args, fmt.Sprintf("-Copt-level=%s", req.OptLevel))
	}
	if req.Emit != "" {
		args = append(args, fmt.Sprintf("--emit=%s", req.Emit))
	}
	if req.Unpretty != "" {
		args = append(args, fmt.Sprintf("-Zunpretty=%s", req.Unpretty))
	}
	args = append(args, req.AdditionalRustcArgs...)

	commandLine := append([]string{"cargo"}, args...)
	return args, commandLine
}

// collectFiles walks root and returns every regular file's path relative to
// root. A missing or unreadable root yields an empty set rather than an
// error, matching a first-run (target dir not yet created) workspace.
func collectFiles(root string) map[string]struct{} {
	files := make(map[string]struct{})
	stack := []string{root}

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				stack = append(stack, full)
				continue
			}
			if rel, err := filepath.Rel(root, full); err == nil {
				files[rel] = struct{}{}
			}
		}
	}
	return files
}

// diffPaths returns paths present in after but not before, rooted back
// under root.
func diffPaths(before, after map[string]struct{}, root string) []string {
	var artifacts []string
	for rel := range after {
		if _, existed := before[rel]; !existed {
			artifacts = append(artifacts, filepath.Join(root, rel))
		}
	}
	return artifacts
}
