// Package blob provides durable, write-once payload storage for submitted
// evidence files.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Store persists evidence payloads by opaque reference. Put must commit
// before the caller creates any dependent record; a reference is never
// overwritten.
type Store interface {
	Put(ctx context.Context, ref string, payload []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// SHA256 returns the hex digest used for duplicate-payload detection.
func SHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FSStore implements Store on the local filesystem. References map to paths
// under the configured root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &model.StorageUnavailableError{Op: "blob mkdir", Err: err}
	}
	return &FSStore{root: root}, nil
}

// Put writes the payload atomically (temp file + rename). A second Put to an
// existing reference fails: blobs are write-once.
func (s *FSStore) Put(ctx context.Context, ref string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return eris.Errorf("blob: reference %s already written", ref)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &model.StorageUnavailableError{Op: "blob mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return &model.StorageUnavailableError{Op: "blob create", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &model.StorageUnavailableError{Op: "blob write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &model.StorageUnavailableError{Op: "blob close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &model.StorageUnavailableError{Op: "blob rename", Err: err}
	}
	return nil
}

// Get reads the payload for a reference.
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Errorf("blob: reference %s not found", ref)
		}
		return nil, &model.StorageUnavailableError{Op: "blob read", Err: err}
	}
	return data, nil
}

// path rejects references that would escape the root.
func (s *FSStore) path(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", eris.Errorf("blob: invalid reference %q", ref)
	}
	return filepath.Join(s.root, clean), nil
}
