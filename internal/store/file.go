package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/tanq16/velodown/internal/utils"
)

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

// Load returns the default snapshot when the state file does not exist yet.
func (f *FileStore) Load(ctx context.Context) (utils.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), &utils.PersistenceError{Op: "load", Err: err}
	}
	return decode(data)
}

// Save rewrites the whole document through a temp file and a rename so a
// crash never leaves a truncated state file behind.
func (f *FileStore) Save(ctx context.Context, snap utils.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	return nil
}
