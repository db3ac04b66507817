// Package storage keeps uploaded recordings on the local filesystem so a
// transcription job's source audio survives restarts and can be fetched
// back for cloud reprocessing.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Recordings stores recording files under one directory, keyed by job id.
type Recordings struct {
	dir string
}

// NewRecordings creates a recording store rooted at dir.
func NewRecordings(dir string) *Recordings {
	return &Recordings{dir: dir}
}

func (s *Recordings) path(key string) (string, error) {
	// Keys are job ids; reject anything that could escape the directory.
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid recording key %q", key)
	}
	return filepath.Join(s.dir, key+".wav"), nil
}

// Save writes a recording atomically: temp file plus rename, so a crash
// mid-write never leaves a truncated file under the final name.
func (s *Recordings) Save(key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".recording-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Open returns a reader over a stored recording.
func (s *Recordings) Open(key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Exists reports whether a recording is stored under key.
func (s *Recordings) Exists(key string) bool {
	path, err := s.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes a stored recording. Missing files are not an error.
func (s *Recordings) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Dir returns the storage directory.
func (s *Recordings) Dir() string { return s.dir }
