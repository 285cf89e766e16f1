// Package crypto encrypts agent tokens at rest with a fernet key that is
// generated on first use and stored in the Settings table.
package crypto

import (
	"fmt"
	"sync"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/fernet/fernet-go"
)

const keySettingName = "fernet_key"

var (
	keyMu     sync.Mutex
	cachedKey *fernet.Key
)

// getKey loads the encryption key from Settings, generating and persisting a
// fresh one the first time. The key is cached for the life of the process.
func getKey() (*fernet.Key, error) {
	keyMu.Lock()
	defer keyMu.Unlock()

	if cachedKey != nil {
		return cachedKey, nil
	}

	keyStr, err := database.GetSetting(keySettingName)
	if err != nil {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting(keySettingName, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		cachedKey = &k
		return cachedKey, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	cachedKey = key
	return cachedKey, nil
}

// Encrypt seals a plaintext token for storage.
func Encrypt(plaintext string) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a stored token. An empty ciphertext decrypts to "".
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask hides all but the last 4 characters of a secret for API responses.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
