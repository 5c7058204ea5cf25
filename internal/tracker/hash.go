package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// resultHash derives the cache key for one tool invocation. The arguments
// map is canonicalized first, so the hash is stable under key reordering.
func resultHash(toolName string, args map[string]any) string {
	sum := sha256.Sum256([]byte(toolName + "\x00" + canonicalJSON(args)))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders a value as JSON with all object keys sorted
// recursively. Unsupported types fall back to their encoding/json form.
func canonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			writeJSONString(b, fmt.Sprintf("%v", val))
			return
		}
		b.Write(raw)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	raw, _ := json.Marshal(s)
	b.Write(raw)
}
