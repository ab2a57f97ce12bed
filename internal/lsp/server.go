// Package lsp is a small language server for manifests: diagnostics on open
// and change, hover on object and field keys, and formatting of .rdl files.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/formatter"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/logger"
	"github.com/marte-community/register-dev-tools/internal/lsp/cache"
	"github.com/marte-community/register-dev-tools/internal/schema"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

type JsonRpcMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
}

type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
)

type InitializeParams struct {
	RootURI  string `json:"rootUri"`
	RootPath string `json:"rootPath"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

type HoverParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

type DocumentFormattingParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Hover struct {
	Contents any `json:"contents"`
}

type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

const (
	SeverityError   = 1
	SeverityWarning = 2
)

type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"`
	Code     string `json:"code,omitempty"`
	Source   string `json:"source"`
	Message  string `json:"message"`
}

type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     int          `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type Server struct {
	reader  *bufio.Reader
	out     io.Writer
	outMu   sync.Mutex
	session *cache.Session
	opts    compiler.Options
	root    string
	exited  bool
}

func NewServer(in io.Reader, out io.Writer, opts compiler.Options) *Server {
	return &Server{
		reader:  bufio.NewReader(in),
		out:     out,
		session: cache.NewSession(),
		opts:    opts,
	}
}

// RunServer serves on stdin and stdout until the client exits.
func RunServer(ctx context.Context, opts compiler.Options) error {
	return NewServer(os.Stdin, os.Stdout, opts).Run(ctx)
}

// Run reads messages until exit, end of input or cancellation.
func (s *Server) Run(ctx context.Context) error {
	for !s.exited {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := readMessage(s.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg JsonRpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Printf("lsp: dropping malformed message: %v", err)
			continue
		}
		s.handleMessage(ctx, &msg)
	}
	return nil
}

func readMessage(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if contentLength < 0 {
				continue
			}
			break
		}
		var n int
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &n); err == nil {
			contentLength = n
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Server) handleMessage(ctx context.Context, msg *JsonRpcMessage) {
	switch msg.Method {
	case "initialize":
		var params InitializeParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.root = params.RootPath
			if params.RootURI != "" {
				s.root = uriToPath(params.RootURI)
			}
		}
		s.loadProjectSchema()
		s.respond(msg.ID, map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync":           1, // full sync
				"hoverProvider":              true,
				"documentFormattingProvider": true,
			},
			"serverInfo": map[string]any{"name": "rdt"},
		})
	case "initialized", "$/cancelRequest", "$/setTrace":
	case "shutdown":
		s.respond(msg.ID, nil)
	case "exit":
		s.exited = true
	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			doc := params.TextDocument
			s.update(ctx, doc.URI, doc.Version, doc.Text)
		}
	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil && len(params.ContentChanges) > 0 {
			text := params.ContentChanges[len(params.ContentChanges)-1].Text
			s.update(ctx, params.TextDocument.URI, params.TextDocument.Version, text)
		}
	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.session.Close(params.TextDocument.URI)
			s.notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
				URI:         params.TextDocument.URI,
				Diagnostics: []Diagnostic{},
			})
		}
	case "textDocument/hover":
		var params HoverParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respondError(msg.ID, codeInvalidParams, err.Error())
			return
		}
		s.respond(msg.ID, s.hover(params))
	case "textDocument/formatting":
		var params DocumentFormattingParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.respondError(msg.ID, codeInvalidParams, err.Error())
			return
		}
		s.respond(msg.ID, s.format(params))
	default:
		if msg.ID != nil {
			s.respondError(msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
		}
	}
}

// loadProjectSchema extends the schema with the workspace's own file.
func (s *Server) loadProjectSchema() {
	if s.root == "" || s.opts.Schema == nil {
		return
	}
	sch, err := schema.LoadFullSchema(s.root)
	if err != nil {
		logger.Printf("lsp: keeping the default schema: %v", err)
		return
	}
	s.opts.Schema = sch
}

func uriToPath(uri string) string {
	path := strings.TrimPrefix(uri, "file://")
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	return path
}

func (s *Server) update(ctx context.Context, uri string, version int, text string) {
	path := uriToPath(uri)
	res, _ := compiler.CompileBytes(ctx, path, []byte(text), s.opts)
	snap := &cache.Snapshot{URI: uri, Path: path, Version: version, Text: text, Result: res}
	if !s.session.Update(snap) {
		return
	}
	s.notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: diagnostics(path, res),
	})
}

func diagnostics(path string, res *compiler.Result) []Diagnostic {
	out := []Diagnostic{}
	for _, e := range diag.Flatten(res.Err) {
		if e.Pos.File != "" && e.Pos.File != path {
			continue
		}
		msg := e.Message
		if e.Suggestion != "" {
			msg += ". " + e.Suggestion
		}
		out = append(out, Diagnostic{
			Range:    span(e.Pos, e.Path),
			Severity: SeverityError,
			Code:     e.Kind.String(),
			Source:   "rdt",
			Message:  msg,
		})
	}
	for _, d := range res.Warnings {
		out = append(out, Diagnostic{
			Range:    span(d.Position, d.Path),
			Severity: SeverityWarning,
			Code:     d.Tag,
			Source:   "rdt",
			Message:  d.Message,
		})
	}
	return out
}

// span covers the last segment of path starting at pos, or a single
// character when the segment is unknown.
func span(pos tree.Position, path string) Range {
	if !pos.IsValid() {
		return Range{}
	}
	start := Position{Line: pos.Line - 1, Character: pos.Column - 1}
	width := 1
	if i := strings.LastIndexAny(path, "./"); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.IndexByte(path, '['); i >= 0 {
		path = path[:i]
	}
	if path != "" {
		width = len(path)
	}
	return Range{Start: start, End: Position{Line: start.Line, Character: start.Character + width}}
}

func (s *Server) hover(params HoverParams) *Hover {
	snap := s.session.Snapshot(params.TextDocument.URI)
	if snap == nil || snap.Index == nil {
		return nil
	}
	res := snap.Index.Query(snap.Path, params.Position.Line+1, params.Position.Character+1)
	if res == nil {
		return nil
	}
	var content string
	if res.Field != nil {
		content = formatFieldInfo(res)
	} else {
		content = formatEntryInfo(snap, res.Entry)
	}
	return &Hover{Contents: MarkupContent{Kind: "markdown", Value: content}}
}

func formatEntryInfo(snap *cache.Snapshot, e *index.Entry) string {
	obj := e.Object
	info := fmt.Sprintf("**%s** `%s`", obj.Kind(), e.Path)
	if d := obj.Info().Description; d != "" {
		info += "\n\n" + d
	}
	if snap.Device != nil {
		var lines []string
		for _, o := range snap.Device.Instances(e.Path) {
			lines = append(lines, fmt.Sprintf("- `%s` at `0x%x`", o.Instance, o.Address))
		}
		if len(lines) > 0 {
			info += "\n\n" + strings.Join(lines, "\n")
		}
	}
	return info
}

func formatFieldInfo(res *index.QueryResult) string {
	f := res.Field
	info := fmt.Sprintf("**field** `%s` of `%s`\n\n`%s` bits `[%d, %d)`", f.Name, res.Entry.Path, f.BaseName(), f.Start, f.End)
	if f.Description != "" {
		info += "\n\n" + f.Description
	}
	return info
}

func (s *Server) format(params DocumentFormattingParams) []TextEdit {
	snap := s.session.Snapshot(params.TextDocument.URI)
	if snap == nil || !strings.EqualFold(filepath.Ext(snap.Path), ".rdl") {
		return nil
	}
	out, err := formatter.Source(snap.Path, []byte(snap.Text))
	if err != nil || string(out) == snap.Text {
		return []TextEdit{}
	}
	lines := strings.Count(snap.Text, "\n")
	return []TextEdit{{
		Range:   Range{End: Position{Line: lines + 1}},
		NewText: string(out),
	}}
}

func (s *Server) respond(id any, result any) {
	s.send(JsonRpcMessage{Jsonrpc: "2.0", ID: id, Result: result})
}

func (s *Server) respondError(id any, code int, message string) {
	s.send(JsonRpcMessage{Jsonrpc: "2.0", ID: id, Error: &JsonRpcError{Code: code, Message: message}})
}

func (s *Server) notify(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		logger.Printf("lsp: encode %s: %v", method, err)
		return
	}
	s.send(JsonRpcMessage{Jsonrpc: "2.0", Method: method, Params: data})
}

func (s *Server) send(msg JsonRpcMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Printf("lsp: encode response: %v", err)
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, "Content-Length: %d\r\n\r\n%s", len(body), body)
}
