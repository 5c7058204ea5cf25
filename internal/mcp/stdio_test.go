package mcp

import "testing"

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  ServerConfig{Name: "files", Command: "mcp-files", Args: []string{"--root", "/data"}},
		},
		{
			name:    "missing name",
			cfg:     ServerConfig{Command: "mcp-files"},
			wantErr: true,
		},
		{
			name:    "missing command",
			cfg:     ServerConfig{Name: "files"},
			wantErr: true,
		},
		{
			name:    "command traversal",
			cfg:     ServerConfig{Name: "files", Command: "../../bin/sh"},
			wantErr: true,
		},
		{
			name:    "workdir traversal",
			cfg:     ServerConfig{Name: "files", Command: "mcp-files", WorkDir: "../outside"},
			wantErr: true,
		},
		{
			name:    "arg with command chaining",
			cfg:     ServerConfig{Name: "files", Command: "mcp-files", Args: []string{"x; rm -rf /"}},
			wantErr: true,
		},
		{
			name: "arg with spaces and quotes",
			cfg:  ServerConfig{Name: "files", Command: "mcp-files", Args: []string{`--label "my data"`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContainsShellMetachars(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"--verbose", false},
		{"path with spaces", false},
		{"$(whoami)", true},
		{"`id`", true},
		{"a && b", true},
		{"a | b", true},
		{"out > file", true},
	}
	for _, tt := range tests {
		if got := containsShellMetachars(tt.in); got != tt.want {
			t.Errorf("containsShellMetachars(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
