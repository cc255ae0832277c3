package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const encryptionKeySize = 32 // AES-256

// StaticKeyRing is a fixed set of keys loaded at startup
type StaticKeyRing struct {
	activeID string
	keys     map[string][]byte
}

// NewStaticKeyRing validates key sizes and that activeID is present
func NewStaticKeyRing(activeID string, keys map[string][]byte) (*StaticKeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("key ring is empty")
	}
	for id, key := range keys {
		if id == "" || strings.Contains(id, ":") {
			return nil, fmt.Errorf("invalid key id %q", id)
		}
		if len(key) != encryptionKeySize {
			return nil, fmt.Errorf("key %q must be %d bytes (got %d)", id, encryptionKeySize, len(key))
		}
	}
	if _, ok := keys[activeID]; !ok {
		return nil, fmt.Errorf("active key %q not in key ring", activeID)
	}

	return &StaticKeyRing{activeID: activeID, keys: keys}, nil
}

// ParseKeyRing parses "id:base64key,id2:base64key". When activeID is empty
// the first entry is active.
func ParseKeyRing(spec, activeID string) (*StaticKeyRing, error) {
	keys := make(map[string][]byte)
	first := ""

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, encoded, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("key ring entry must be id:base64key")
		}
		id = strings.TrimSpace(id)

		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("key %q is not valid base64: %w", id, err)
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate key id %q", id)
		}

		keys[id] = key
		if first == "" {
			first = id
		}
	}

	if activeID == "" {
		activeID = first
	}
	return NewStaticKeyRing(activeID, keys)
}

func (r *StaticKeyRing) ActiveKey() (string, []byte) {
	return r.activeID, r.keys[r.activeID]
}

func (r *StaticKeyRing) Key(id string) ([]byte, bool) {
	key, ok := r.keys[id]
	return key, ok
}
