// Package lsp is a narrowly scoped JSON-RPC-over-stdio client for
// rust-analyzer: just enough of the Language Server Protocol to resolve a
// definition location, walk a file's document symbols down to the
// innermost enclosing symbol, and probe a type hierarchy.
package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/example/rust-mcp/internal/symbol"
)

// wirePosition, wireRange, and wireLocation mirror the wire shapes;
// symbol.Position etc. are the in-process equivalents used everywhere else
// in the module.
type wirePosition struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

type wireRange struct {
	Start wirePosition `json:"start"`
	End   wirePosition `json:"end"`
}

type wireLocation struct {
	URI   string    `json:"uri"`
	Range wireRange `json:"range"`
}

type wireLocationLink struct {
	OriginSelectionRange *wireRange `json:"originSelectionRange,omitempty"`
	TargetURI            string     `json:"targetUri"`
	TargetRange          wireRange  `json:"targetRange"`
	TargetSelectionRange wireRange  `json:"targetSelectionRange"`
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type textDocumentPositionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     wirePosition           `json:"position"`
}

type documentSymbolParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type documentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           uint32           `json:"kind"`
	Range          wireRange        `json:"range"`
	SelectionRange wireRange        `json:"selectionRange"`
	Children       []documentSymbol `json:"children,omitempty"`
}

type symbolInformation struct {
	Name          string       `json:"name"`
	Kind          uint32       `json:"kind"`
	Location      wireLocation `json:"location"`
	ContainerName string       `json:"containerName,omitempty"`
}

func toSymbolPosition(p wirePosition) symbol.Position {
	return symbol.Position{Line: p.Line, Character: p.Character}
}

func toSymbolRange(r wireRange) symbol.Range {
	return symbol.Range{Start: toSymbolPosition(r.Start), End: toSymbolPosition(r.End)}
}

func toSymbolLocation(l wireLocation) symbol.Location {
	return symbol.Location{URI: l.URI, Range: toSymbolRange(l.Range)}
}

// Client wraps a rust-analyzer child process speaking LSP over stdio.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.Writer
	reader    *bufio.Reader
	requestID uint64

	mu          sync.Mutex
	initialized bool
}

// RustAnalyzerPath resolves the LSP binary: RUST_ANALYZER_PATH if set, else
// {HOME}/.cargo/bin/rust-analyzer.
func RustAnalyzerPath() string {
	if path := os.Getenv("RUST_ANALYZER_PATH"); path != "" {
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return home + "/.cargo/bin/rust-analyzer"
}

// Start spawns rust-analyzer and completes the initialize/initialized
// handshake against the given workspace root. An empty binaryPath falls
// back to RustAnalyzerPath(), letting most callers omit it.
func Start(ctx context.Context, workspaceRoot string, binaryPath string) (*Client, error) {
	if binaryPath == "" {
		binaryPath = RustAnalyzerPath()
	}
	cmd := exec.CommandContext(ctx, binaryPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening rust-analyzer stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening rust-analyzer stdout: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting rust-analyzer: %w", err)
	}

	c := &Client{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}

	if err := c.initialize(workspaceRoot); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Close terminates the underlying process.
func (c *Client) Close() error {
	if c.cmd.Process == nil {
		return nil
	}
	_ = c.cmd.Process.Kill()
	return c.cmd.Wait()
}

func (c *Client) initialize(workspaceRoot string) error {
	rootURI := "file://" + workspaceRoot
	params := map[string]any{
		"processId": nil,
		"clientInfo": map[string]any{
			"name":    "rust-mcp-server",
			"version": "0.1.0",
		},
		"rootUri": rootURI,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition":         map[string]any{"dynamicRegistration": false},
				"references":         map[string]any{"dynamicRegistration": false},
				"publishDiagnostics": map[string]any{"relatedInformation": true},
				"typeHierarchy":      map[string]any{"dynamicRegistration": false},
			},
			"workspace": map[string]any{
				"symbol": map[string]any{"dynamicRegistration": false},
			},
		},
	}

	if _, err := c.sendRequest("initialize", params); err != nil {
		return err
	}
	if err := c.sendNotification("initialized", map[string]any{}); err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return fmt.Errorf("client not initialized")
	}
	return nil
}

func (c *Client) sendNotification(method string, params any) error {
	return c.sendMessage(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func (c *Client) sendRequest(method string, params any) (json.RawMessage, error) {
	// Held for the whole round trip so concurrent callers never read each
	// other's responses off the shared stdout.
	c.mu.Lock()
	defer c.mu.Unlock()

	id := atomic.AddUint64(&c.requestID, 1)
	if err := c.sendMessage(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}); err != nil {
		return nil, err
	}
	return c.readResponse(id)
}

func (c *Client) sendMessage(message any) error {
	content, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding LSP message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(content))
	if _, err := c.stdin.Write([]byte(header)); err != nil {
		return fmt.Errorf("writing LSP header: %w", err)
	}
	if _, err := c.stdin.Write(content); err != nil {
		return fmt.Errorf("writing LSP body: %w", err)
	}
	return nil
}

type rpcEnvelope struct {
	ID     json.Number     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// readResponse drains framed messages until it finds the one matching
// expectedID, discarding notifications and unrelated responses in between.
func (c *Client) readResponse(expectedID uint64) (json.RawMessage, error) {
	for {
		contentLength := -1
		for {
			line, err := c.reader.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("reading LSP header: %w", err)
			}
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" {
				break
			}
			if rest, ok := strings.CutPrefix(trimmed, "Content-Length:"); ok {
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					return nil, fmt.Errorf("parsing Content-Length: %w", err)
				}
				contentLength = n
			}
		}
		if contentLength < 0 {
			return nil, fmt.Errorf("LSP message missing Content-Length header")
		}

		body := make([]byte, contentLength)
		if _, err := readFull(c.reader, body); err != nil {
			return nil, fmt.Errorf("reading LSP body: %w", err)
		}

		var env rpcEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			continue
		}
		id, err := env.ID.Int64()
		if err != nil || uint64(id) != expectedID {
			continue
		}
		if env.Error != nil {
			return nil, fmt.Errorf("LSP error %d: %s", env.Error.Code, env.Error.Message)
		}
		return env.Result, nil
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DefinitionDetails is a resolved definition location plus the symbol path
// enclosing it in its own document.
type DefinitionDetails struct {
	Location   symbol.Location
	SymbolPath symbol.Path
}

// Definition resolves textDocument/definition at (line, character) in
// file, then fetches the target document's symbols to build the enclosing
// SymbolPath. Returns (nil, nil) when rust-analyzer reports no definition.
func (c *Client) Definition(filePath string, line, character uint32) (*DefinitionDetails, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}

	params := textDocumentPositionParams{
		TextDocument: textDocumentIdentifier{URI: "file://" + filePath},
		Position:     wirePosition{Line: line, Character: character},
	}
	result, err := c.sendRequest("textDocument/definition", params)
	if err != nil {
		return nil, err
	}

	location := selectDefinitionLocation(result)
	if location == nil {
		return nil, nil
	}

	var symbolPath symbol.Path
	if symbols, err := c.documentSymbols(location.URI); err == nil {
		symbolPath = symbolPathFromResponse(symbols, location.Range.Start)
	}

	return &DefinitionDetails{Location: *location, SymbolPath: symbolPath}, nil
}

// selectDefinitionLocation applies the last-element reduction across all
// three shapes textDocument/definition may return.
func selectDefinitionLocation(raw json.RawMessage) *symbol.Location {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}

	if trimmed[0] != '[' {
		var loc wireLocation
		if err := json.Unmarshal(trimmed, &loc); err != nil {
			return nil
		}
		l := toSymbolLocation(loc)
		return &l
	}

	// A LocationLink[] also decodes into []wireLocation (unknown keys are
	// ignored), leaving an empty uri; fall through to the link shape then.
	var locations []wireLocation
	if err := json.Unmarshal(trimmed, &locations); err == nil {
		if len(locations) == 0 {
			return nil
		}
		if last := locations[len(locations)-1]; last.URI != "" {
			l := toSymbolLocation(last)
			return &l
		}
	}

	var links []wireLocationLink
	if err := json.Unmarshal(trimmed, &links); err == nil {
		if len(links) == 0 {
			return nil
		}
		last := links[len(links)-1]
		return &symbol.Location{URI: last.TargetURI, Range: toSymbolRange(last.TargetSelectionRange)}
	}

	return nil
}

type documentSymbolsResult struct {
	symbols []documentSymbol
	infos   []symbolInformation
}

func (c *Client) documentSymbols(uri string) (documentSymbolsResult, error) {
	params := documentSymbolParams{TextDocument: textDocumentIdentifier{URI: uri}}
	result, err := c.sendRequest("textDocument/documentSymbol", params)
	if err != nil {
		return documentSymbolsResult{}, err
	}

	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(result, &probe); err != nil {
		return documentSymbolsResult{}, fmt.Errorf("unrecognized documentSymbol response shape")
	}

	if looksLikeDocumentSymbols(probe) {
		var symbols []documentSymbol
		if err := json.Unmarshal(result, &symbols); err != nil {
			return documentSymbolsResult{}, fmt.Errorf("unrecognized documentSymbol response shape")
		}
		return documentSymbolsResult{symbols: symbols}, nil
	}

	var infos []symbolInformation
	if err := json.Unmarshal(result, &infos); err != nil {
		return documentSymbolsResult{}, fmt.Errorf("unrecognized documentSymbol response shape")
	}
	return documentSymbolsResult{infos: infos}, nil
}

// looksLikeDocumentSymbols distinguishes the DocumentSymbol[] shape (keyed
// by "selectionRange") from SymbolInformation[] (keyed by "location") by
// inspecting each element's raw keys, since both shapes carry a non-empty
// "name" and unmarshal without error into either Go type — a flat
// SymbolInformation[] response would otherwise be misread as DocumentSymbol[]
// and walked with a zero-valued selection range.
func looksLikeDocumentSymbols(elements []map[string]json.RawMessage) bool {
	if len(elements) == 0 {
		return true
	}
	_, hasSelectionRange := elements[0]["selectionRange"]
	return hasSelectionRange
}

// symbolPathFromResponse dispatches on which shape documentSymbols
// actually returned.
func symbolPathFromResponse(resp documentSymbolsResult, position symbol.Position) symbol.Path {
	if len(resp.symbols) > 0 {
		return findSymbolPathInDocumentSymbols(resp.symbols, position)
	}
	for _, info := range resp.infos {
		if toSymbolRange(info.Location.Range).Contains(position) {
			var path symbol.Path
			if info.ContainerName != "" {
				path = append(path, symbol.PathSegment{Name: info.ContainerName, Kind: info.Kind})
			}
			path = append(path, symbol.PathSegment{Name: info.Name, Kind: info.Kind})
			return path
		}
	}
	return nil
}

// findSymbolPathInDocumentSymbols recursively walks nested document
// symbols, returning the path down to the innermost symbol whose
// selectionRange contains position.
func findSymbolPathInDocumentSymbols(symbols []documentSymbol, position symbol.Position) symbol.Path {
	for _, s := range symbols {
		if !toSymbolRange(s.SelectionRange).Contains(position) {
			continue
		}
		path := symbol.Path{{Name: s.Name, Kind: s.Kind}}
		if len(s.Children) > 0 {
			if childPath := findSymbolPathInDocumentSymbols(s.Children, position); childPath != nil {
				path = append(path, childPath...)
			}
		}
		return path
	}
	return nil
}

// TypeHierarchyItem is a single node returned from a type hierarchy probe.
type TypeHierarchyItem struct {
	Name string
	Kind uint32
	URI  string
}

// TypeHierarchy attempts a best-effort textDocument/prepareTypeHierarchy
// followed by typeHierarchy/supertypes round trip. Callers fall back to a
// placeholder description when err is non-nil or the result is empty --
// not every rust-analyzer build advertises this capability.
func (c *Client) TypeHierarchy(filePath string, line, character uint32) ([]TypeHierarchyItem, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}

	params := textDocumentPositionParams{
		TextDocument: textDocumentIdentifier{URI: "file://" + filePath},
		Position:     wirePosition{Line: line, Character: character},
	}
	prepared, err := c.sendRequest("textDocument/prepareTypeHierarchy", params)
	if err != nil {
		return nil, err
	}

	var items []struct {
		Name string `json:"name"`
		Kind uint32 `json:"kind"`
		URI  string `json:"uri"`
		Data any    `json:"data"`
	}
	if err := json.Unmarshal(prepared, &items); err != nil || len(items) == 0 {
		return nil, fmt.Errorf("no type hierarchy item resolved at position")
	}

	result, err := c.sendRequest("typeHierarchy/supertypes", map[string]any{"item": items[0]})
	if err != nil {
		return nil, err
	}

	var supertypes []struct {
		Name string `json:"name"`
		Kind uint32 `json:"kind"`
		URI  string `json:"uri"`
	}
	if err := json.Unmarshal(result, &supertypes); err != nil {
		return nil, err
	}

	out := []TypeHierarchyItem{{Name: items[0].Name, Kind: items[0].Kind, URI: items[0].URI}}
	for _, s := range supertypes {
		out = append(out, TypeHierarchyItem{Name: s.Name, Kind: s.Kind, URI: s.URI})
	}
	return out, nil
}
