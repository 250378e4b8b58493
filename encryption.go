package eventfully

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
)

// Header keys written by the encryption filter.
const (
	HeaderEncrypted     = "x-encrypted"
	HeaderEncryptionKey = "x-encryption-key"
)

// KeyProvider resolves named symmetric keys from an external secret store.
type KeyProvider interface {
	// GetKey returns the secret bytes for the named key.
	GetKey(ctx context.Context, name string) ([]byte, error)
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(ctx context.Context, name string) ([]byte, error)

// GetKey implements KeyProvider.
func (fn KeyProviderFunc) GetKey(ctx context.Context, name string) ([]byte, error) {
	return fn(ctx, name)
}

// CachingKeyProvider wraps a KeyProvider and caches each key after the first
// lookup. The secret store is consulted lazily, once per key name.
type CachingKeyProvider struct {
	inner KeyProvider

	mu   sync.RWMutex
	keys map[string][]byte
}

// NewCachingKeyProvider wraps inner with a per-name cache.
func NewCachingKeyProvider(inner KeyProvider) *CachingKeyProvider {
	return &CachingKeyProvider{
		inner: inner,
		keys:  make(map[string][]byte),
	}
}

// GetKey implements KeyProvider.
func (p *CachingKeyProvider) GetKey(ctx context.Context, name string) ([]byte, error) {
	p.mu.RLock()
	key, ok := p.keys[name]
	p.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := p.inner.GetKey(ctx, name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.keys[name] = key
	p.mu.Unlock()

	return key, nil
}

// EncryptionFilter encrypts payloads with AES-GCM on the outbound path and
// decrypts them on the inbound path. The key name travels in message headers
// so mixed-key fleets can rotate keys without draining queues. Missing keys
// are non-transient: the message can never be delivered with this
// configuration.
type EncryptionFilter struct {
	keyName  string
	provider KeyProvider
}

var _ Filter = (*EncryptionFilter)(nil)

// NewEncryptionFilter builds a filter using the named key from provider.
func NewEncryptionFilter(keyName string, provider KeyProvider) (*EncryptionFilter, error) {
	if keyName == "" {
		return nil, fmt.Errorf("eventfully: encryption key name is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("eventfully: nil key provider")
	}

	return &EncryptionFilter{keyName: keyName, provider: provider}, nil
}

// Outbound implements Filter: seal the payload and record the key name.
func (f *EncryptionFilter) Outbound(ctx context.Context, data []byte, fc *FilterContext) ([]byte, error) {
	gcm, err := f.aead(ctx, f.keyName)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("eventfully: nonce generation failed: %w", err)
	}

	if fc.Headers == nil {
		fc.Headers = make(map[string]string)
	}
	fc.Headers[HeaderEncrypted] = "true"
	fc.Headers[HeaderEncryptionKey] = f.keyName

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Inbound implements Filter: open the payload with the key the headers name.
// Unencrypted messages pass through so endpoints can enable encryption
// without a coordinated cutover.
func (f *EncryptionFilter) Inbound(ctx context.Context, data []byte, fc *FilterContext) ([]byte, error) {
	if fc.Headers[HeaderEncrypted] != "true" {
		return data, nil
	}

	keyName := fc.Headers[HeaderEncryptionKey]
	if keyName == "" {
		keyName = f.keyName
	}

	gcm, err := f.aead(ctx, keyName)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, Permanent(fmt.Errorf("eventfully: ciphertext shorter than nonce"))
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("eventfully: decrypt failed: %w", err))
	}

	return plaintext, nil
}

func (f *EncryptionFilter) aead(ctx context.Context, keyName string) (cipher.AEAD, error) {
	key, err := f.provider.GetKey(ctx, keyName)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEncryptionKeyNotFound, keyName)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, Permanent(fmt.Errorf("eventfully: bad encryption key %q: %w", keyName, err))
	}

	return cipher.NewGCM(block)
}
