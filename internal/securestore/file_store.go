package securestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"civicreport/internal/crypto"
)

const fileSuffix = ".enc"

// FileStore writes every key to its own AES-GCM encrypted file under dir.
// The key name is bound in as associated data, so a file copied over another
// key fails to decrypt.
type FileStore struct {
	dir string
	key []byte
}

// NewFileStore derives the storage key from master and deviceFP. The
// directory is created lazily on first write.
func NewFileStore(dir string, master []byte, deviceFP string) (*FileStore, error) {
	key, err := crypto.DeriveStoreKey(master, deviceFP)
	if err != nil {
		return nil, fmt.Errorf("derive store key: %w", err)
	}
	return &FileStore{dir: dir, key: key}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileSuffix)
}

func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := s.checkDir(); err != nil {
		return "", false, err
	}
	blob, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	plain, err := crypto.Open(s.key, blob, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return string(plain), true, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	blob, err := crypto.Seal(s.key, []byte(value), []byte(key))
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// checkDir distinguishes "nothing stored yet" from "cannot reach storage".
func (s *FileStore) checkDir() error {
	info, err := os.Stat(s.dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, s.dir)
	}
	return nil
}
