package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store that keeps every key in one JSON document. Each write
// rewrites the document through a temp file and rename, so a crash leaves
// either the old or the new contents on disk. Nothing is cached: every call
// reads the document, and writers hold an exclusive lock on Path+".lock"
// so processes sharing the file never lose each other's keys.
type File struct {
	Path string

	mu sync.Mutex
}

// OpenFile checks that the document at path, if any, is readable.
func OpenFile(path string) (*File, error) {
	f := &File{Path: path}
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() (map[string]json.RawMessage, error) {
	entries := make(map[string]json.RawMessage)
	b, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Path, err)
	}
	return entries, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set implements Store. Values must be valid JSON.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	return f.Update(ctx, key, func([]byte) ([]byte, error) {
		return value, nil
	})
}

// Update implements Store. Values must be valid JSON.
func (f *File) Update(_ context.Context, key string, fn func(value []byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	unlock, err := lockFile(f.Path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", f.Path, err)
	}
	defer unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	var current []byte
	if v, ok := entries[key]; ok {
		current = []byte(v)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if !json.Valid(next) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}
	entries[key] = append(json.RawMessage(nil), next...)
	return f.save(entries)
}

func (f *File) save(entries map[string]json.RawMessage) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
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
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Close implements Store.
func (f *File) Close() error {
	return nil
}
