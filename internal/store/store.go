// Package store implements the on-disk cache layout and the validator
// lock registry.
//
// Storage layout (flat, one entry per cache key):
//
//	root/
//	  <key>       (committed raw bytes)
//	  <key>.temp  (in-progress download)
//	  <key>.lock  (validator record: "<epochMillis>@<etag>_<lastModified>")
//
// Raw files only ever appear through Commit, so a reader never observes a
// partially written blob.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// WriteMode selects how OpenTemp positions the temp file.
type WriteMode int

const (
	// Overwrite truncates the temp file and starts a fresh download.
	Overwrite WriteMode = iota

	// Append continues a prior partial download at its current length.
	Append
)

const (
	suffixTemp = ".temp"
	suffixLock = ".lock"
)

// Store maps cache keys to their on-disk artifacts under a single root
// directory.
type Store struct {
	root string
	mem  *memCache
}

// New creates the cache root if needed and returns a store over it.
// Safe to call concurrently for the same root.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", root, err)
	}
	return &Store{root: root, mem: newMemCache(defaultMemEntries)}, nil
}

// Root returns the resolved cache root directory.
func (s *Store) Root() string {
	return s.root
}

// RawPath returns the committed blob path for a key.
func (s *Store) RawPath(key string) string {
	return filepath.Join(s.root, key)
}

// TempPath returns the in-progress download path for a key.
func (s *Store) TempPath(key string) string {
	return filepath.Join(s.root, key+suffixTemp)
}

// LockPath returns the validator record path for a key.
func (s *Store) LockPath(key string) string {
	return filepath.Join(s.root, key+suffixLock)
}

// Exists reports whether a file is present at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadAll returns the full contents of the file at path.
func (s *Store) ReadAll(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadRaw returns the committed blob for a key, serving repeat reads
// from memory.
func (s *Store) ReadRaw(key string) ([]byte, error) {
	if data, ok := s.mem.get(key); ok {
		return data, nil
	}
	data, err := os.ReadFile(s.RawPath(key))
	if err != nil {
		return nil, err
	}
	s.mem.add(key, data)
	return data, nil
}

// Size returns the current length of the file at path.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LastModified returns the mtime of the file at path.
func (s *Store) LastModified(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// OpenTemp opens the temp file for a key in the given write mode.
func (s *Store) OpenTemp(key string, mode WriteMode) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if mode == Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.TempPath(key), flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}
	return f, nil
}

// Commit atomically replaces a key's raw file with the contents of its
// temp file.
//
// Rename is the fast path; when it fails (e.g. the paths resolve to
// different devices) Commit falls back to copy+delete via a staging file,
// producing the same end state: raw fully present, temp absent. On error
// any prior raw file is left untouched.
func (s *Store) Commit(key string) error {
	tempPath, rawPath := s.TempPath(key), s.RawPath(key)
	s.mem.remove(key)

	if err := os.Rename(tempPath, rawPath); err == nil {
		return nil
	}

	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer src.Close()

	stage := rawPath + ".commit"
	dst, err := os.OpenFile(stage, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(stage)
		return fmt.Errorf("failed to copy temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(stage)
		return fmt.Errorf("failed to flush staging file: %w", err)
	}
	// Same-directory rename, so no device boundary to cross.
	if err := os.Rename(stage, rawPath); err != nil {
		os.Remove(stage)
		return fmt.Errorf("failed to replace raw file: %w", err)
	}
	if err := os.Remove(tempPath); err != nil {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return nil
}

// Remove deletes all artifacts for a key. Missing files are not an error.
func (s *Store) Remove(key string) error {
	s.mem.remove(key)
	for _, path := range []string{s.RawPath(key), s.TempPath(key), s.LockPath(key)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}
