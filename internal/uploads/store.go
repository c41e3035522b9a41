// Package uploads stores transcription input files on the local
// filesystem, one directory per request identifier. The sweeper
// reconciles these directories against live job records.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nagare-ml/nagare/internal/core"
)

// Store is a filesystem-backed artifact store rooted at a single
// directory. Request identifiers are minted UUIDs, but identifiers are
// still checked against path traversal before touching the disk.
type Store struct {
	root string
}

// NewStore creates the upload root if needed and returns a Store.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("upload root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the upload root directory.
func (s *Store) Root() string {
	return s.root
}

// Save streams an upload into the request's directory and returns the
// stored file path. The filename is reduced to its base name.
func (s *Store) Save(requestID, filename string, r io.Reader) (string, error) {
	if err := validateRequestID(requestID); err != nil {
		return "", err
	}
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}

	dir := filepath.Join(s.root, requestID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	path := filepath.Join(dir, base)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}

// Exists reports whether an artifact directory exists for the request.
func (s *Store) Exists(requestID string) bool {
	if validateRequestID(requestID) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, requestID))
	return err == nil && info.IsDir()
}

// List returns the request identifiers of all artifact directories. A
// missing upload root lists as empty rather than failing, so a sweep
// before the first upload is a no-op.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Remove deletes the request's artifact directory and its contents.
func (s *Store) Remove(requestID string) error {
	if err := validateRequestID(requestID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, requestID)); err != nil {
		return fmt.Errorf("remove artifact dir: %w", err)
	}
	return nil
}

func validateRequestID(requestID string) error {
	if requestID == "" {
		return errors.New("request id is required")
	}
	if strings.ContainsAny(requestID, `/\`) || requestID == "." || requestID == ".." {
		return fmt.Errorf("invalid request id %q", requestID)
	}
	return nil
}

var _ core.ArtifactStore = (*Store)(nil)
