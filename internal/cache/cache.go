package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const keyPrefix = "promessa:v1:"

// Cache is a byte store with per-entry TTL. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds a namespaced cache key. The variable parts are hashed so
// targets with accents or slashes still give filesystem-safe keys.
func Key(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + namespace + ":" + hex.EncodeToString(hash[:16])
}

// splitKey returns the namespace and hash of a key built by Key. Other
// keys fall into the "misc" namespace.
func splitKey(key string) (namespace, rest string) {
	trimmed, ok := strings.CutPrefix(key, keyPrefix)
	if ok {
		if ns, h, found := strings.Cut(trimmed, ":"); found && ns != "" && h != "" {
			return ns, h
		}
	}
	return "misc", key
}
