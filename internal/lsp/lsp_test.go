package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rust-mcp/internal/symbol"
)

func newPipe() (*io.PipeReader, *io.PipeWriter) {
	return io.Pipe()
}

func TestSelectDefinitionLocationSingle(t *testing.T) {
	raw := json.RawMessage(`{"uri":"file:///a.rs","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`)
	loc := selectDefinitionLocation(raw)
	require.NotNil(t, loc)
	assert.Equal(t, "file:///a.rs", loc.URI)
	assert.Equal(t, uint32(1), loc.Range.Start.Line)
}

func TestSelectDefinitionLocationArrayTakesLast(t *testing.T) {
	raw := json.RawMessage(`[
		{"uri":"file:///a.rs","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}}},
		{"uri":"file:///b.rs","range":{"start":{"line":2,"character":0},"end":{"line":2,"character":1}}}
	]`)
	loc := selectDefinitionLocation(raw)
	require.NotNil(t, loc)
	assert.Equal(t, "file:///b.rs", loc.URI)
}

func TestSelectDefinitionLocationLinksTakesLast(t *testing.T) {
	raw := json.RawMessage(`[
		{"targetUri":"file:///a.rs","targetRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"targetSelectionRange":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}},
		{"targetUri":"file:///b.rs","targetRange":{"start":{"line":3,"character":0},"end":{"line":3,"character":1}},"targetSelectionRange":{"start":{"line":3,"character":2},"end":{"line":3,"character":6}}}
	]`)
	loc := selectDefinitionLocation(raw)
	require.NotNil(t, loc)
	assert.Equal(t, "file:///b.rs", loc.URI)
	assert.Equal(t, uint32(2), loc.Range.Start.Character)
}

func TestSelectDefinitionLocationNull(t *testing.T) {
	assert.Nil(t, selectDefinitionLocation(json.RawMessage(`null`)))
	assert.Nil(t, selectDefinitionLocation(json.RawMessage(`[]`)))
}

func TestFindSymbolPathInDocumentSymbolsInnermostMatch(t *testing.T) {
	pos := symbol.Position{Line: 5, Character: 2}
	symbols := []documentSymbol{
		{
			Name: "outer",
			Kind: 12,
			SelectionRange: wireRange{
				Start: wirePosition{Line: 1, Character: 0},
				End:   wirePosition{Line: 10, Character: 0},
			},
			Children: []documentSymbol{
				{
					Name: "inner",
					Kind: 6,
					SelectionRange: wireRange{
						Start: wirePosition{Line: 5, Character: 0},
						End:   wirePosition{Line: 5, Character: 5},
					},
				},
			},
		},
	}

	path := findSymbolPathInDocumentSymbols(symbols, pos)
	require.Len(t, path, 2)
	assert.Equal(t, "outer", path[0].Name)
	assert.Equal(t, "inner", path[1].Name)
}

func TestFindSymbolPathInDocumentSymbolsNoMatch(t *testing.T) {
	pos := symbol.Position{Line: 99, Character: 0}
	symbols := []documentSymbol{
		{
			Name: "outer",
			SelectionRange: wireRange{
				Start: wirePosition{Line: 1, Character: 0},
				End:   wirePosition{Line: 10, Character: 0},
			},
		},
	}
	assert.Nil(t, findSymbolPathInDocumentSymbols(symbols, pos))
}

func TestSymbolPathFromResponseSymbolInformation(t *testing.T) {
	pos := symbol.Position{Line: 3, Character: 1}
	resp := documentSymbolsResult{
		infos: []symbolInformation{
			{
				Name:          "do_thing",
				Kind:          12,
				ContainerName: "utils",
				Location: wireLocation{
					URI: "file:///a.rs",
					Range: wireRange{
						Start: wirePosition{Line: 3, Character: 0},
						End:   wirePosition{Line: 3, Character: 10},
					},
				},
			},
		},
	}
	path := symbolPathFromResponse(resp, pos)
	require.Len(t, path, 2)
	assert.Equal(t, "utils", path[0].Name)
	assert.Equal(t, "do_thing", path[1].Name)
}

// fakeServer sits on the far end of a Client's stdin/reader pipes as an in-process fake LSP server
// that replies deterministically, without spawning a real rust-analyzer.
type fakeServer struct {
	incoming *bufio.Reader
	outgoing *bufio.Writer
}

func (f *fakeServer) readMessage() (map[string]any, error) {
	contentLength := -1
	for {
		line, err := f.incoming.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := trimCRLF(line)
		if trimmed == "" {
			break
		}
		fmt.Sscanf(trimmed, "Content-Length: %d", &contentLength)
	}
	body := make([]byte, contentLength)
	if _, err := readFull(f.incoming, body); err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (f *fakeServer) writeMessage(msg any) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(content))
	if _, err := f.outgoing.WriteString(header); err != nil {
		return err
	}
	if _, err := f.outgoing.Write(content); err != nil {
		return err
	}
	return f.outgoing.Flush()
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestReadResponseSkipsNotificationsAndUnrelatedIDs(t *testing.T) {
	clientReader, serverWriter := newPipe()
	serverReader, clientWriter := newPipe()

	client := &Client{
		stdin:     clientWriter,
		reader:    bufio.NewReader(clientReader),
		requestID: 0,
	}

	server := &fakeServer{incoming: bufio.NewReader(serverReader), outgoing: bufio.NewWriter(serverWriter)}

	go func() {
		req, err := server.readMessage()
		if err != nil {
			return
		}
		_ = server.writeMessage(map[string]any{"jsonrpc": "2.0", "method": "window/logMessage"})
		_ = server.writeMessage(map[string]any{"jsonrpc": "2.0", "id": 999, "result": "wrong"})
		_ = server.writeMessage(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "right"})
	}()

	result, err := client.sendRequest("ping", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, `"right"`, string(result))
}
