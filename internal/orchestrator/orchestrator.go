// Package orchestrator binds gating, the workspace lock, LSP resolution,
// symbol normalization, the compiler run, and artifact extraction into the
// single inspection pipeline every tool call drives.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/example/rust-mcp/internal/compiler"
	"github.com/example/rust-mcp/internal/extract"
	"github.com/example/rust-mcp/internal/inspecterr"
	"github.com/example/rust-mcp/internal/inspection"
	"github.com/example/rust-mcp/internal/lsp"
	"github.com/example/rust-mcp/internal/symbol"
)

// Logger is the minimal surface the orchestrator needs, satisfied by the
// project's structured logger. Kept narrow so tests can pass a no-op.
type Logger interface {
	Info(correlationID, message string, fields map[string]any)
	Error(correlationID, message string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, string, map[string]any)  {}
func (noopLogger) Error(string, string, map[string]any) {}

// DefinitionResolver is the narrow slice of *lsp.Client the orchestrator
// depends on, so tests (and callers wiring a degraded fallback when
// rust-analyzer could not be started) can substitute it without spawning
// rust-analyzer.
type DefinitionResolver interface {
	Definition(filePath string, line, character uint32) (*lsp.DefinitionDetails, error)
	TypeHierarchy(filePath string, line, character uint32) ([]lsp.TypeHierarchyItem, error)
}

// Orchestrator performs inspections against one workspace's LSP client and
// inspection context.
type Orchestrator struct {
	lspClient DefinitionResolver
	logger    Logger
}

// New builds an Orchestrator. Pass a nil logger to use a no-op logger.
func New(lspClient DefinitionResolver, logger Logger) *Orchestrator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Orchestrator{lspClient: lspClient, logger: logger}
}

// Request parameterizes a single inspection call, mirroring every field a
// tool invocation may supply.
type Request struct {
	ViewName   string
	FilePath   string
	Line       *uint32
	Character  *uint32
	SymbolName string
	OptLevel   string
	Target     string
}

// Perform runs the full nine-step inspection pipeline:
//  1. resolve the view and check it is advertised under the current gating
//  2. short-circuit with a diagnostic if the view is advertised but not runnable
//  3. acquire the workspace lock
//  4. dispatch on view kind: def/types resolve purely via LSP; the rest
//     additionally normalize the symbol, run the compiler, and extract
//  5. for def/types: resolve definition, build identity and display text
//  6. for mir/llvm-ir/asm: resolve+normalize the symbol, run cargo rustc
//  7. extract the per-view artifact from compiler output
//  8. release the workspace lock
//  9. truncate the result text and attach provenance
func (o *Orchestrator) Perform(ctx context.Context, ictx *inspection.Context, req Request) (*inspection.Result, error) {
	correlationID := uuid.NewString()

	view, ok := inspection.FindView(req.ViewName)
	if !ok {
		return nil, inspecterr.New(inspecterr.InvalidParams,
			fmt.Sprintf("Unknown inspection view `%s`", req.ViewName), nil)
	}

	if !inspection.IsViewAdvertised(view, ictx.ToolchainChannel(), ictx.GatingMode()) {
		return nil, inspecterr.New(inspecterr.InvalidParams,
			fmt.Sprintf("View `%s` is not available under %s gating for %s",
				view.Name, ictx.GatingMode(), ictx.ToolchainChannel()), nil)
	}

	provenance := ictx.Provenance()

	if !inspection.IsViewRunnable(view, ictx.ToolchainChannel()) {
		return &inspection.Result{
			View: view.Name,
			Text: "",
			Diagnostics: []string{
				fmt.Sprintf("View `%s` requires a nightly toolchain (detected %s)", view.Name, ictx.ToolchainChannel()),
			},
			Provenance: provenance,
		}, nil
	}

	guard := ictx.LockWorkspace()
	provenance.WorkspaceLocked = true
	o.logger.Info(correlationID, "workspace locked", map[string]any{"view": view.Name, "file": req.FilePath})

	outputText, symbolNameOut, diagnostics, err := o.runView(ctx, ictx, view, req, &provenance)
	guard.Release()
	o.logger.Info(correlationID, "workspace unlocked", map[string]any{"view": view.Name})

	if err != nil {
		o.logger.Error(correlationID, "inspection failed", map[string]any{"view": view.Name, "error": err.Error()})
		return nil, err
	}

	text, truncated, truncation := inspection.TruncateWithLimits(outputText, ictx.Limits())
	if truncation != nil {
		diagnostics = append(diagnostics, truncationNote(truncation))
	}
	provenance.Truncation = truncation

	return &inspection.Result{
		View:        view.Name,
		Symbol:      symbolNameOut,
		Text:        text,
		Truncated:   truncated,
		Diagnostics: diagnostics,
		Provenance:  provenance,
	}, nil
}

func (o *Orchestrator) runView(ctx context.Context, ictx *inspection.Context, view inspection.View, req Request, provenance *inspection.Provenance) (string, string, []string, error) {
	switch view.Name {
	case "def":
		resolved, err := o.resolveDefinition(req.FilePath, req.Line, req.Character, req.SymbolName)
		if err != nil {
			return "", "", nil, err
		}
		return resolved.Text, itemNameOf(resolved.Symbol), nil, nil

	case "types":
		resolved, err := o.resolveTypes(req.FilePath, req.Line, req.Character, req.SymbolName)
		if err != nil {
			return "", "", nil, err
		}
		return resolved.Text, itemNameOf(resolved.Symbol), nil, nil

	default:
		return o.runCompilerView(ctx, ictx, view, req, provenance)
	}
}

func itemNameOf(id *symbol.Identity) string {
	if id == nil {
		return ""
	}
	return id.ItemName
}

// ResolvedDefinition is a definition-backed textual result and the
// identity it resolved to.
type ResolvedDefinition struct {
	Symbol *symbol.Identity
	Text   string
}

func requirePosition(line, character *uint32) (uint32, uint32, error) {
	if line == nil || character == nil {
		return 0, 0, inspecterr.New(inspecterr.InvalidParams,
			"Both line and character are required to resolve a symbol", nil)
	}
	return *line, *character, nil
}

func symbolNotFoundError(filePath string, line, character uint32) error {
	return inspecterr.New(inspecterr.SymbolNotFound,
		fmt.Sprintf("No symbol found at %s:%d:%d", filePath, line, character),
		map[string]any{"file_path": filePath, "line": line, "character": character})
}

func nonFunctionError(id symbol.Identity) error {
	return inspecterr.New(inspecterr.InvalidParams,
		fmt.Sprintf("Item at position is not a function (found %s)", id.Kind),
		map[string]any{"kind": id.Kind.String()})
}

func (o *Orchestrator) resolveDefinition(filePath string, linePtr, characterPtr *uint32, symbolName string) (*ResolvedDefinition, error) {
	line, character, err := requirePosition(linePtr, characterPtr)
	if err != nil {
		return nil, err
	}

	details, err := o.lspClient.Definition(filePath, line, character)
	if err != nil {
		return nil, inspecterr.Wrap(inspecterr.Internal, err, fmt.Sprintf("Failed to resolve symbol: %v", err), nil)
	}
	if details == nil {
		return nil, symbolNotFoundError(filePath, line, character)
	}

	identity, ok := identityFromDefinition(details.Location.URI, details.SymbolPath)
	if !ok {
		return nil, symbolNotFoundError(filePath, line, character)
	}
	if symbolName != "" {
		identity = identity.WithItemName(symbolName)
	}

	pathNames := make([]string, len(details.SymbolPath))
	for i, seg := range details.SymbolPath {
		pathNames[i] = seg.Name
	}

	text := fmt.Sprintf("Definition: %s:%d:%d (%s)",
		details.Location.URI,
		details.Location.Range.Start.Line+1,
		details.Location.Range.Start.Character+1,
		strings.Join(pathNames, "::"))

	return &ResolvedDefinition{Symbol: &identity, Text: text}, nil
}

func (o *Orchestrator) resolveTypes(filePath string, linePtr, characterPtr *uint32, symbolName string) (*ResolvedDefinition, error) {
	line, character, err := requirePosition(linePtr, characterPtr)
	if err != nil {
		return nil, err
	}

	details, err := o.lspClient.Definition(filePath, line, character)
	if err != nil {
		return nil, inspecterr.Wrap(inspecterr.Internal, err, fmt.Sprintf("Failed to resolve symbol: %v", err), nil)
	}
	if details == nil {
		return nil, symbolNotFoundError(filePath, line, character)
	}

	identity, ok := identityFromDefinition(details.Location.URI, details.SymbolPath)
	if !ok {
		return nil, symbolNotFoundError(filePath, line, character)
	}
	if symbolName != "" {
		identity = identity.WithItemName(symbolName)
	}

	pathNames := make([]string, len(details.SymbolPath))
	for i, seg := range details.SymbolPath {
		pathNames[i] = seg.Name
	}

	typeInfo := "Type hierarchy unavailable for this position"
	if items, err := o.lspClient.TypeHierarchy(filePath, line, character); err == nil && len(items) > 0 {
		names := make([]string, len(items))
		for i, it := range items {
			names[i] = it.Name
		}
		typeInfo = strings.Join(names, " -> ")
	}

	text := fmt.Sprintf("Definition: %s:%d:%d (%s)\n%s",
		details.Location.URI,
		details.Location.Range.Start.Line+1,
		details.Location.Range.Start.Character+1,
		strings.Join(pathNames, "::"),
		typeInfo)

	return &ResolvedDefinition{Symbol: &identity, Text: text}, nil
}

func (o *Orchestrator) resolveNormalizedSymbol(filePath string, linePtr, characterPtr *uint32, symbolName, target string) (symbol.Normalized, error) {
	line, character, err := requirePosition(linePtr, characterPtr)
	if err != nil {
		return symbol.Normalized{}, err
	}

	details, err := o.lspClient.Definition(filePath, line, character)
	if err != nil {
		return symbol.Normalized{}, inspecterr.Wrap(inspecterr.Internal, err, fmt.Sprintf("Failed to resolve symbol: %v", err), nil)
	}
	if details == nil {
		return symbol.Normalized{}, symbolNotFoundError(filePath, line, character)
	}

	identity, ok := identityFromDefinition(details.Location.URI, details.SymbolPath)
	if !ok {
		return symbol.Normalized{}, symbolNotFoundError(filePath, line, character)
	}

	if !identity.Kind.IsFunction() {
		return symbol.Normalized{}, nonFunctionError(identity)
	}

	if symbolName != "" {
		identity = identity.WithItemName(symbolName)
	}

	normalized := symbol.FromIdentity(identity, "", "")
	if target != "" {
		normalized.Target = target
	}
	return normalized, nil
}

func (o *Orchestrator) runCompilerView(ctx context.Context, ictx *inspection.Context, view inspection.View, req Request, provenance *inspection.Provenance) (string, string, []string, error) {
	sym, err := o.resolveNormalizedSymbol(req.FilePath, req.Line, req.Character, req.SymbolName, req.Target)
	if err != nil {
		return "", "", nil, err
	}

	runner := compiler.WithTargetDir(ictx.TargetDir()).WithCargoBinary(ictx.CargoBinary())
	result, err := runner.Run(ctx, compiler.Request{
		TargetTriple: req.Target,
		OptLevel:     req.OptLevel,
		Emit:         view.Emit,
		Unpretty:     view.Unpretty,
		Env:          ictx.Env(),
	}, ictx.Limits())
	if err != nil {
		return "", "", nil, err
	}
	provenance.Command = strings.Join(result.Command, " ")

	if result.ExitCode != 0 {
		return "", "", nil, compilerFailureError(result)
	}

	var diagnostics []string
	if strings.TrimSpace(result.Stderr) != "" {
		stderr, truncatedStderr, _ := inspection.TruncateWithLimits(result.Stderr, ictx.Limits())
		prefix := "Compiler stderr:\n"
		if truncatedStderr {
			prefix = "Compiler stderr (truncated):\n"
		}
		diagnostics = append(diagnostics, prefix+stderr)
	}

	var output string
	switch view.Name {
	case "mir":
		output, err = extract.MIR([]string{result.Stdout}, sym)
		if err != nil {
			return "", "", nil, inspecterr.Wrap(inspecterr.ExtractionNoMatch, err, fmt.Sprintf("Unable to locate MIR for symbol: %v", err), nil)
		}

	case "llvm-ir":
		llvmOutputs, err := readArtifacts(result.Artifacts, []string{".ll"}, ictx.Limits())
		if err != nil {
			return "", "", nil, err
		}
		if len(llvmOutputs) == 0 {
			return "", "", nil, inspecterr.New(inspecterr.IoError, "No LLVM IR artifacts were produced by the compiler", nil)
		}
		output, err = extract.LLVMIR(llvmOutputs, sym)
		if err != nil {
			return "", "", nil, inspecterr.Wrap(inspecterr.ExtractionNoMatch, err, fmt.Sprintf("Unable to locate LLVM IR for symbol: %v", err), nil)
		}

	case "asm":
		assemblies, err := loadAssemblyArtifacts(result.Artifacts, req.Target, ictx.Limits())
		if err != nil {
			return "", "", nil, err
		}
		if len(assemblies) == 0 {
			return "", "", nil, inspecterr.New(inspecterr.IoError, "No assembly artifacts were produced by the compiler", nil)
		}

		targetTriple := req.Target
		if targetTriple == "" {
			targetTriple = assemblies[0].Target
		}
		if targetTriple == "" {
			targetTriple = "host"
		}
		sym.Target = targetTriple

		output, err = extract.Asm(assemblies, sym, targetTriple)
		if err != nil {
			return "", "", nil, inspecterr.Wrap(inspecterr.ExtractionNoMatch, err, fmt.Sprintf("Unable to locate assembly for symbol: %v", err), nil)
		}

	default:
		return "", "", nil, inspecterr.New(inspecterr.InvalidParams, fmt.Sprintf("Unsupported inspection view `%s`", view.Name), nil)
	}

	return output, sym.ItemName, diagnostics, nil
}

func compilerFailureError(result *compiler.Result) error {
	return inspecterr.New(inspecterr.CompilerFailed, "Compiler run failed",
		map[string]any{
			"status":  result.ExitCode,
			"stdout":  result.Stdout,
			"stderr":  result.Stderr,
			"command": result.Command,
		})
}

func truncationNote(summary *inspection.TruncationSummary) string {
	return fmt.Sprintf("Output truncated to %d lines/%d bytes from %d lines/%d bytes",
		summary.KeptLines, summary.KeptBytes, summary.OriginalLines, summary.OriginalBytes)
}

// readArtifacts filters artifact paths by extension, reads each, and
// enforces the per-file byte limit before the content is ever handed to
// the extractor.
func readArtifacts(paths []string, extensions []string, limits inspection.Limits) ([]string, error) {
	var outputs []string
	for _, path := range paths {
		if !hasAnyExt(path, extensions) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := enforceArtifactLimit(path, len(data), limits); err != nil {
			return nil, err
		}
		outputs = append(outputs, string(data))
	}
	return outputs, nil
}

// loadAssemblyArtifacts filters to .s/.asm artifacts, reads each, enforces
// the size limit, and tags each with its inferred target triple.
func loadAssemblyArtifacts(paths []string, targetHint string, limits inspection.Limits) ([]extract.TargetedAssembly, error) {
	var assemblies []extract.TargetedAssembly
	for _, path := range paths {
		if !hasAnyExt(path, []string{".s", ".asm"}) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := enforceArtifactLimit(path, len(data), limits); err != nil {
			return nil, err
		}

		target := inferTargetFromPath(path)
		if target == "" {
			target = targetHint
		}
		if target == "" {
			target = "unknown"
		}

		assemblies = append(assemblies, extract.TargetedAssembly{Target: target, Content: string(data)})
	}
	return assemblies, nil
}

func hasAnyExt(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func enforceArtifactLimit(path string, size int, limits inspection.Limits) error {
	if size <= limits.MaxOutputBytes {
		return nil
	}
	return inspecterr.New(inspecterr.ArtifactTooLarge,
		fmt.Sprintf("Artifact %s exceeded the size limit (%d bytes > %d bytes). Request a smaller output (e.g., a single symbol or target).", path, size, limits.MaxOutputBytes),
		map[string]any{"artifact": path, "limit_bytes": limits.MaxOutputBytes, "observed_bytes": size})
}

// inferTargetFromPath walks path's components looking for the inspection
// target directory's name; the component right after it names the target
// triple, unless it's the literal "debug"/"release" profile directory.
func inferTargetFromPath(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if part != "mcp-inspections" {
			continue
		}
		if i+1 >= len(parts) {
			return ""
		}
		next := parts[i+1]
		if next == "debug" || next == "release" {
			return ""
		}
		return next
	}
	return ""
}

// identityFromDefinition derives a symbol.Identity from a resolved
// definition location and its enclosing document-symbol path. The crate
// name is taken from the workspace directory enclosing the file's "src"
// root; the module path is taken from the directory components between
// "src" and the file itself (module files named mod.rs/lib.rs/main.rs do
// not contribute their own segment); the item name and kind come from the
// innermost symbol-path segment, falling back to the file's stem.
func identityFromDefinition(uri string, path symbol.Path) (symbol.Identity, bool) {
	filePath := strings.TrimPrefix(uri, "file://")
	if filePath == "" {
		return symbol.Identity{}, false
	}

	crateName, modulePath := crateAndModuleFromPath(filePath)

	itemName := ""
	kind := symbol.KindOther
	if len(path) > 0 {
		last := path[len(path)-1]
		itemName = last.Name
		kind = symbol.KindFromLSP(last.Kind)
	} else {
		itemName = strings.TrimSuffix(filepath.Base(filePath), ".rs")
	}

	if itemName == "" {
		return symbol.Identity{}, false
	}

	return symbol.Identity{
		CrateName:  crateName,
		ModulePath: modulePath,
		ItemName:   itemName,
		Kind:       kind,
	}, true
}

func crateAndModuleFromPath(filePath string) (string, []string) {
	slashPath := filepath.ToSlash(filePath)
	parts := strings.Split(slashPath, "/")

	srcIdx := -1
	for i, part := range parts {
		if part == "src" {
			srcIdx = i
		}
	}
	if srcIdx < 0 || srcIdx == 0 {
		return "unknown_crate", nil
	}

	crateName := parts[srcIdx-1]
	remainder := parts[srcIdx+1:]
	if len(remainder) == 0 {
		return crateName, nil
	}

	fileName := remainder[len(remainder)-1]
	dirs := remainder[:len(remainder)-1]

	switch strings.TrimSuffix(fileName, ".rs") {
	case "mod", "lib", "main":
	default:
		dirs = append(append([]string{}, dirs...), strings.TrimSuffix(fileName, ".rs"))
	}

	return crateName, dirs
}
