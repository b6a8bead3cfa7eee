package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Cache key layout: rel4go:<entity>:<operation>:<fingerprint>. The
// fingerprint hashes the operation's parameters so equivalent reads share a
// key; the entity segment keeps pattern invalidation cheap.
const (
	keyPrefix    = "rel4go"
	keySeparator = ":"

	// unit separator between fingerprint parts, so ("ab","c") and ("a","bc")
	// hash differently
	partSeparator = "\x1f"
)

// Key builds the cache key for one read operation
func Key(entity, operation string, parts ...interface{}) string {
	h := xxhash.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v%s", part, partSeparator)
	}
	fingerprint := fmt.Sprintf("%016x", h.Sum64())[:12]
	return keyPrefix + keySeparator + entity + keySeparator + operation + keySeparator + fingerprint
}

// EntityPattern matches every cached read of one entity type
func EntityPattern(entity string) string {
	return keyPrefix + keySeparator + entity + keySeparator + "*"
}
