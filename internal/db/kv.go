package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soaringjerry/labreport/internal/securestore"
)

// SQLiteKV is one scope of the kv_records table. Scopes never see each
// other's keys, so every session gets its own medium.
type SQLiteKV struct {
	store *SQLiteStore
	scope string
}

// KV returns the medium for scope.
func (s *SQLiteStore) KV(scope string) securestore.KV {
	return &SQLiteKV{store: s, scope: scope}
}

func (k *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := k.store.db.QueryRowContext(ctx, `SELECT value FROM kv_records WHERE scope = ? AND key = ?`, k.scope, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get: %w", err)
	}
	return v, true, nil
}

func (k *SQLiteKV) Set(ctx context.Context, key, value string) error {
	_, err := k.store.db.ExecContext(ctx, `
		INSERT INTO kv_records(scope, key, value, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		k.scope, key, value, k.store.now().Unix())
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (k *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := k.store.db.ExecContext(ctx, `DELETE FROM kv_records WHERE scope = ? AND key = ?`, k.scope, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (k *SQLiteKV) Keys(ctx context.Context) ([]string, error) {
	rows, err := k.store.db.QueryContext(ctx, `SELECT key FROM kv_records WHERE scope = ? ORDER BY key`, k.scope)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv keys: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// DeletePrefix compares with substr rather than LIKE, since '_' in the
// reserved prefix is a LIKE wildcard.
func (k *SQLiteKV) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := k.store.db.ExecContext(ctx,
		`DELETE FROM kv_records WHERE scope = ? AND substr(key, 1, ?) = ?`,
		k.scope, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("kv delete prefix: %w", err)
	}
	return rowsAffected(res), nil
}

// PurgeRecordsBefore drops records not written since cutoff, skipping the
// scopes in keep, and returns the removed count.
func (s *SQLiteStore) PurgeRecordsBefore(ctx context.Context, cutoff time.Time, keep ...string) (int, error) {
	query := `DELETE FROM kv_records WHERE updated_at < ?`
	args := []any{cutoff.UTC().Unix()}
	if len(keep) > 0 {
		query += ` AND scope NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, scope := range keep {
			args = append(args, scope)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge kv records: %w", err)
	}
	return rowsAffected(res), nil
}

var (
	_ securestore.KV            = (*SQLiteKV)(nil)
	_ securestore.PrefixDeleter = (*SQLiteKV)(nil)
)
