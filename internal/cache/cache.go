package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// GenerateKey generates a fingerprint from an ordered list of parts
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Fingerprints remembers the last fingerprint applied per key, so callers can skip
// notifying views when a refresh produced identical state.
type Fingerprints struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewFingerprints creates an empty fingerprint store
func NewFingerprints() *Fingerprints {
	return &Fingerprints{keys: make(map[string]string)}
}

// Swap stores key under name and reports whether it differs from the previous one
func (f *Fingerprints) Swap(name, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, ok := f.keys[name]
	f.keys[name] = key
	return !ok || prev != key
}
