package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore persists blobs under a base directory as
// <base>/raw/<fileID>-<filename> and <base>/processed/<fileID>.txt.
type LocalStore struct {
	baseDir string
}

// NewLocalStore constructs a LocalStore rooted at baseDir, creating it if
// necessary.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) rawPath(fileID, filename string) string {
	return filepath.Join(s.baseDir, "raw", fileID+"-"+filepath.Base(filename))
}

func (s *LocalStore) processedPath(fileID string) string {
	return filepath.Join(s.baseDir, "processed", fileID+".txt")
}

func (s *LocalStore) PutRaw(ctx context.Context, fileID, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.rawPath(fileID, filename)
	if err := writeFileAtomically(path, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("blobstore: write raw blob for %s: %w", fileID, err)
	}
	return path, nil
}

func (s *LocalStore) PutProcessed(ctx context.Context, fileID string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.processedPath(fileID)
	if err := writeFileAtomically(path, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("blobstore: write processed blob for %s: %w", fileID, err)
	}
	return path, nil
}

func (s *LocalStore) GetRaw(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read raw blob %s: %w", path, err)
	}
	return b, nil
}

func (s *LocalStore) Delete(ctx context.Context, fileID string) error {
	for _, glob := range []string{
		filepath.Join(s.baseDir, "raw", fileID+"-*"),
		s.processedPath(fileID),
	} {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("blobstore: glob %s: %w", glob, err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("blobstore: remove %s: %w", m, err)
			}
		}
	}
	return nil
}

// writeFileAtomically writes r's contents to path via a temp file in the
// same directory followed by a rename, so readers never observe a partial
// write.
func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
