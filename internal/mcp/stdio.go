package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const protocolVersion = "2024-11-05"

// ServerConfig describes how to reach one MCP server. Transport selects
// stdio (the default, subprocess pipes) or http (JSON-RPC over POST).
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport,omitempty"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	WorkDir   string            `yaml:"workdir,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// Validate rejects configurations that smell like injection attempts.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if c.Transport == "http" {
		if c.URL == "" {
			return fmt.Errorf("url is required for %s", c.Name)
		}
		return nil
	}
	if c.Command == "" {
		return fmt.Errorf("command is required for %s", c.Name)
	}
	if strings.Contains(filepath.Clean(c.Command), "..") {
		return fmt.Errorf("command for %s contains path traversal: %q", c.Name, c.Command)
	}
	if c.WorkDir != "" && strings.Contains(filepath.Clean(c.WorkDir), "..") {
		return fmt.Errorf("workdir for %s contains path traversal: %q", c.Name, c.WorkDir)
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] for %s contains shell metacharacters: %q", i, c.Name, arg)
		}
	}
	return nil
}

// containsShellMetachars flags patterns that suggest command chaining.
// Spaces and quotes stay legal; they are common in legitimate args.
func containsShellMetachars(s string) bool {
	for _, pattern := range []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// StdioConnectFunc returns a ConnectFunc that spawns the configured
// subprocess and speaks newline-delimited JSON-RPC over its pipes.
func StdioConnectFunc(cfg ServerConfig, logger *slog.Logger) ConnectFunc {
	return func(ctx context.Context) (Session, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return newStdioSession(ctx, cfg, logger)
	}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// stdioSession is one MCP session over a subprocess's stdin/stdout.
type stdioSession struct {
	cfg     ServerConfig
	logger  *slog.Logger
	process *exec.Cmd
	stdin   io.WriteCloser

	pending   map[int64]chan *jsonrpcResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newStdioSession(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*stdioSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &stdioSession{
		cfg:     cfg,
		logger:  logger.With("mcp_server", cfg.Name, "transport", "stdio"),
		pending: make(map[int64]chan *jsonrpcResponse),
		done:    make(chan struct{}),
	}

	s.process = exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	s.process.Env = os.Environ()
	for k, v := range cfg.Env {
		s.process.Env = append(s.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.WorkDir != "" {
		s.process.Dir = cfg.WorkDir
	}

	var err error
	if s.stdin, err = s.process.StdinPipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := s.process.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := s.process.StderrPipe()

	if err := s.process.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	s.logger.Info("server process started", "pid", s.process.Process.Pid)

	s.wg.Add(1)
	go s.readLoop(stdout)
	if stderr != nil {
		s.wg.Add(1)
		go s.logStderr(stderr)
	}
	return s, nil
}

// Initialize performs the MCP handshake.
func (s *stdioSession) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "meridian",
			"version": "0.1.0",
		},
	}
	if _, err := s.call(ctx, "initialize", params); err != nil {
		return err
	}
	return s.notify("notifications/initialized", nil)
}

// ListTools implements Session.
func (s *stdioSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return result.Tools, nil
}

// ListPrompts implements Session.
func (s *stdioSession) ListPrompts(ctx context.Context) ([]Prompt, error) {
	raw, err := s.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode prompts/list: %w", err)
	}
	return result.Prompts, nil
}

// ListResources implements Session.
func (s *stdioSession) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := s.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode resources/list: %w", err)
	}
	return result.Resources, nil
}

// CallTool implements Session, flattening the content blocks of the result
// into one text payload.
func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := s.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode tools/call: %w", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close kills the subprocess and releases the reader goroutines.
func (s *stdioSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stdin.Close()
		if s.process.Process != nil {
			s.process.Process.Kill()
		}
		s.wg.Wait()
		s.process.Wait()
	})
	return nil
}

func (s *stdioSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *jsonrpcResponse, 1)
	s.pendingMu.Lock()
	s.pending[id] = respChan
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.write(req); err != nil {
		return nil, err
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s timed out after %v", method, timeout)
	case <-s.done:
		return nil, fmt.Errorf("session closed")
	}
}

func (s *stdioSession) notify(method string, params any) error {
	req := jsonrpcRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return s.write(req)
}

func (s *stdioSession) write(req jsonrpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

func (s *stdioSession) readLoop(stdout io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-s.done:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			// Notifications and unparseable lines are dropped.
			continue
		}
		s.pendingMu.Lock()
		ch, ok := s.pending[*resp.ID]
		s.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("stdout closed", "error", err)
	}
}

func (s *stdioSession) logStderr(stderr io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug("server stderr", "line", scanner.Text())
	}
}
