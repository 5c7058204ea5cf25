package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileProvider stores one JSON file per key under a base directory.
type FileProvider struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileProvider creates the base directory if needed.
func NewFileProvider(baseDir string) (*FileProvider, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create %s: %w", baseDir, err)
	}
	return &FileProvider{baseDir: baseDir}, nil
}

func (p *FileProvider) path(key string) string {
	return filepath.Join(p.baseDir, sanitizeKey(key)+".json")
}

// Save implements Provider. The write goes through a temp file so a crash
// never leaves a half-written value.
func (p *FileProvider) Save(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := p.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state: commit %s: %w", key, err)
	}
	return nil
}

// Load implements Provider.
func (p *FileProvider) Load(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(p.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: read %s: %w", key, err)
	}
	return data, true, nil
}

// Delete implements Provider. Deleting a missing key is not an error.
func (p *FileProvider) Delete(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Provider.
func (p *FileProvider) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(p.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: stat %s: %w", key, err)
	}
	return true, nil
}

// ListKeys implements Provider. The prefix matches the sanitized key form.
func (p *FileProvider) ListKeys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return nil, fmt.Errorf("state: list %s: %w", p.baseDir, err)
	}

	var keys []string
	sanitized := sanitizeKey(prefix)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if strings.HasPrefix(key, sanitized) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
