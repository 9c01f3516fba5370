package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoCredentials is returned by a pool that holds no keys.
var ErrNoCredentials = errors.New("provider: no credentials available")

// CredentialPool rotates through equivalent API keys for one provider.
type CredentialPool struct {
	name string

	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewCredentialPool builds a pool, dropping blank keys.
func NewCredentialPool(name string, keys []string) *CredentialPool {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			cleaned = append(cleaned, key)
		}
	}
	return &CredentialPool{name: name, keys: cleaned}
}

// Name identifies the provider the pool belongs to.
func (p *CredentialPool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Size reports how many keys the pool rotates through.
func (p *CredentialPool) Size() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the key under the cursor and advances it.
func (p *CredentialPool) Next() (string, error) {
	if p == nil {
		return "", ErrNoCredentials
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", fmt.Errorf("%s: %w", p.name, ErrNoCredentials)
	}
	key := p.keys[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.keys)
	return key, nil
}
