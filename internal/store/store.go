package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dropmates/internal/model"
)

const fileVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported cache file version")

// Store persists the last-known snapshot per account.
type Store interface {
	Load(ctx context.Context, account string) (model.RelationshipSnapshot, bool, error)
	Save(ctx context.Context, snapshot model.RelationshipSnapshot) error
	Close() error
}

// Open picks a backend from the path extension: SQLite for .db, .sqlite and
// .sqlite3, a JSON file otherwise.
func Open(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is required")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return NewFileStore(path), nil
	}
}

// FileStore keeps a single snapshot in a JSON file. Writes go through a temp
// file and a rename so a failed save never clobbers the previous cache.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type persistedCacheFile struct {
	Version  int                        `json:"version"`
	Snapshot model.RelationshipSnapshot `json:"snapshot"`
	SavedAt  int64                      `json:"savedAt"`
}

func (s *FileStore) Load(ctx context.Context, account string) (model.RelationshipSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.RelationshipSnapshot{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RelationshipSnapshot{}, false, nil
		}
		return model.RelationshipSnapshot{}, false, err
	}
	if len(data) == 0 {
		return model.RelationshipSnapshot{}, false, nil
	}

	var file persistedCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return model.RelationshipSnapshot{}, false, fmt.Errorf("decode cache file: %w", err)
	}
	if file.Version != fileVersion {
		return model.RelationshipSnapshot{}, false, ErrUnsupportedVersion
	}
	if file.Snapshot.Account != account {
		return model.RelationshipSnapshot{}, false, nil
	}
	snap := file.Snapshot
	if snap.Followers == nil {
		snap.Followers = []model.UserRecord{}
	}
	if snap.Following == nil {
		snap.Following = []model.UserRecord{}
	}
	return snap, true, nil
}

func (s *FileStore) Save(ctx context.Context, snapshot model.RelationshipSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	file := persistedCacheFile{Version: fileVersion, Snapshot: snapshot, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
