package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// DefaultName is the checkpoint name used in a SQLite store when none is given.
const DefaultName = "latest"

func isStore(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// Save writes s to path: a SQLite store under name for .db, .sqlite and
// .sqlite3 paths, a YAML or JSON file otherwise.
func Save(ctx context.Context, path, name string, s Snapshot) error {
	if !isStore(path) {
		return SaveFile(path, s)
	}
	if name == "" {
		name = DefaultName
	}
	st, err := NewSQLiteStore(path)
	if err != nil {
		return err
	}
	return errors.Join(st.Save(ctx, name, s), st.Close())
}

// Load reads a checkpoint written by Save.
func Load(ctx context.Context, path, name string) (Snapshot, error) {
	if !isStore(path) {
		return LoadFile(path)
	}
	if name == "" {
		name = DefaultName
	}
	st, err := NewSQLiteStore(path)
	if err != nil {
		return Snapshot{}, err
	}
	s, err := st.Load(ctx, name)
	return s, errors.Join(err, st.Close())
}
