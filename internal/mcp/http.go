package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ConnectFuncFor selects the transport named by the configuration.
func ConnectFuncFor(cfg ServerConfig, logger *slog.Logger) ConnectFunc {
	if cfg.Transport == "http" {
		return HTTPConnectFunc(cfg, logger)
	}
	return StdioConnectFunc(cfg, logger)
}

// HTTPConnectFunc returns a ConnectFunc that speaks JSON-RPC over HTTP
// POST requests to the configured URL.
func HTTPConnectFunc(cfg ServerConfig, logger *slog.Logger) ConnectFunc {
	return func(context.Context) (Session, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if logger == nil {
			logger = slog.Default()
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		return &httpSession{
			cfg:    cfg,
			logger: logger.With("mcp_server", cfg.Name, "transport", "http"),
			client: &http.Client{Timeout: timeout},
		}, nil
	}
}

// httpSession is one MCP session over plain request/response HTTP. Server
// notifications are not consumed; the runtime polls artifacts instead.
type httpSession struct {
	cfg    ServerConfig
	logger *slog.Logger
	client *http.Client
	nextID atomic.Int64
	closed atomic.Bool
}

func (s *httpSession) Initialize(ctx context.Context) error {
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
	return s.notify(ctx, "notifications/initialized")
}

func (s *httpSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
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

func (s *httpSession) ListPrompts(ctx context.Context) ([]Prompt, error) {
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

func (s *httpSession) ListResources(ctx context.Context) ([]Resource, error) {
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

func (s *httpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
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

func (s *httpSession) Close() error {
	s.closed.Store(true)
	s.client.CloseIdleConnections()
	return nil
}

func (s *httpSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session closed")
	}
	id := s.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	body, err := s.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (s *httpSession) notify(ctx context.Context, method string) error {
	_, err := s.post(ctx, jsonrpcRequest{JSONRPC: "2.0", Method: method})
	return err
}

func (s *httpSession) post(ctx context.Context, req jsonrpcRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d: %s", req.Method, resp.StatusCode, body)
	}
	return body, nil
}
