package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv overrides the on-disk master key when set.
const MasterKeyEnv = "CIVIC_MASTER_KEY_HEX"

const storeKeyInfo = "civicreport-securestore"

// ErrInvalidKeyLength is returned when a key is not 32 bytes.
var ErrInvalidKeyLength = errors.New("invalid key length")

// ParseMasterKey decodes a 64 char hex master key.
func ParseMasterKey(h string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (hex 64 chars): %w", ErrInvalidKeyLength)
	}
	return b, nil
}

// LoadOrCreateMasterKey reads the master key from the environment, then from
// path. If neither exists a fresh key is generated and written to path.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	if h := os.Getenv(MasterKeyEnv); h != "" {
		return ParseMasterKey(h)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseMasterKey(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	key, err := RandomBytes(32)
	if err != nil {
		return nil, err
	}
	if err := WriteMasterKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// WriteMasterKey writes key as hex to path and refuses to overwrite.
func WriteMasterKey(path string, key []byte) error {
	if len(key) != 32 {
		return ErrInvalidKeyLength
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create master key: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		return fmt.Errorf("write master key: %w", err)
	}
	return nil
}

// DeriveStoreKey binds the storage key to this device: HKDF-SHA256 over the
// master key, salted with the device fingerprint.
func DeriveStoreKey(master []byte, deviceFP string) ([]byte, error) {
	if len(master) != 32 {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, []byte(deviceFP), []byte(storeKeyInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
