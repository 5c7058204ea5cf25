// Package state persists and evolves per-session knowledge outside the
// conversation log: user profile, knowledge base, interaction context.
// Providers store opaque JSON values under string keys; single-writer is
// assumed, no cross-process atomicity is promised.
package state

import (
	"context"
	"strings"
)

// Provider is the pluggable key-value store behind the state services.
type Provider interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// sanitizeKey maps a logical key to a filesystem-safe name. Colons appear
// in the session key layout and are not legal in filenames everywhere.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		"\\", "_",
		"..", "_",
	)
	return replacer.Replace(key)
}
