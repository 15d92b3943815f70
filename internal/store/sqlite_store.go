package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dropmates/internal/model"
	"dropmates/internal/store/migrations"

	_ "modernc.org/sqlite"
)

const (
	listFollowers = "followers"
	listFollowing = "following"
)

// SQLiteStore keeps one snapshot per account. Each save runs in a single
// transaction, so a failed save leaves the previous rows in place.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, account string) (model.RelationshipSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.RelationshipSnapshot{}, false, err
	}

	var (
		snapshotID string
		fetchedAt  int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT snapshot_id, fetched_at FROM snapshots WHERE account = ?`, account,
	).Scan(&snapshotID, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RelationshipSnapshot{}, false, nil
	}
	if err != nil {
		return model.RelationshipSnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT list, user_id, username, full_name, is_verified
		   FROM snapshot_users
		  WHERE account = ?
		  ORDER BY list, user_id`, account)
	if err != nil {
		return model.RelationshipSnapshot{}, false, fmt.Errorf("load snapshot users: %w", err)
	}
	defer rows.Close()

	snap := model.RelationshipSnapshot{
		ID:        snapshotID,
		Account:   account,
		Followers: []model.UserRecord{},
		Following: []model.UserRecord{},
		FetchedAt: time.UnixMilli(fetchedAt).UTC(),
	}
	for rows.Next() {
		var (
			list     string
			u        model.UserRecord
			verified int
		)
		if err := rows.Scan(&list, &u.ID, &u.Username, &u.FullName, &verified); err != nil {
			return model.RelationshipSnapshot{}, false, fmt.Errorf("scan snapshot user: %w", err)
		}
		u.IsVerified = verified != 0
		switch list {
		case listFollowers:
			snap.Followers = append(snap.Followers, u)
		case listFollowing:
			snap.Following = append(snap.Following, u)
		}
	}
	if err := rows.Err(); err != nil {
		return model.RelationshipSnapshot{}, false, fmt.Errorf("iterate snapshot users: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot model.RelationshipSnapshot) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(snapshot.Account) == "" {
		return fmt.Errorf("snapshot account is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM snapshot_users WHERE account = ?`, snapshot.Account); err != nil {
		return fmt.Errorf("clear snapshot users: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (account, snapshot_id, fetched_at, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET
		   snapshot_id = excluded.snapshot_id,
		   fetched_at = excluded.fetched_at,
		   saved_at = excluded.saved_at`,
		snapshot.Account, snapshot.ID, snapshot.FetchedAt.UTC().UnixMilli(), time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_users (account, list, user_id, username, full_name, is_verified)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	lists := []struct {
		name  string
		users []model.UserRecord
	}{
		{listFollowers, snapshot.Followers},
		{listFollowing, snapshot.Following},
	}
	for _, l := range lists {
		for _, u := range l.users {
			verified := 0
			if u.IsVerified {
				verified = 1
			}
			if _, err = stmt.ExecContext(ctx, snapshot.Account, l.name, u.ID, u.Username, u.FullName, verified); err != nil {
				return fmt.Errorf("insert %s %s: %w", l.name, u.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

const migrationTable = "schema_migrations"

// applyMigrations runs each embedded .sql file at most once, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}
