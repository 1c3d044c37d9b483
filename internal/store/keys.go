package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/workflow-notifier/internal/models"
)

type keyRow struct {
	ID            string `db:"id"`
	ClientID      string `db:"client_id"`
	KeyValue      string `db:"key_value"`
	Permissions   string `db:"permissions"`
	Active        bool   `db:"active"`
	CreatedAt     int64  `db:"created_at"`
	ExpiresAt     int64  `db:"expires_at"`
	DeactivatedAt *int64 `db:"deactivated_at"`
}

func (r keyRow) model() (models.ClientAccessKey, error) {
	key := models.ClientAccessKey{
		ID:            r.ID,
		ClientID:      r.ClientID,
		KeyValue:      r.KeyValue,
		Active:        r.Active,
		CreatedAt:     fromUnix(r.CreatedAt),
		ExpiresAt:     fromUnix(r.ExpiresAt),
		DeactivatedAt: fromNullUnix(r.DeactivatedAt),
	}
	if err := json.Unmarshal([]byte(r.Permissions), &key.Permissions); err != nil {
		return models.ClientAccessKey{}, fmt.Errorf("unmarshaling permissions of key %s: %w", r.ID, err)
	}
	return key, nil
}

// InsertKey persists a client access key together with its ledger.
func (s *SQLiteStore) InsertKey(ctx context.Context, key models.ClientAccessKey) error {
	perms, err := marshalJSON(key.Permissions, "[]")
	if err != nil {
		return fmt.Errorf("marshaling permissions of key %s: %w", key.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO client_access_keys (
			id, client_id, key_value, permissions, active, created_at, expires_at, deactivated_at
		) VALUES (
			:id, :client_id, :key_value, :permissions, :active, :created_at, :expires_at, :deactivated_at
		)`, keyRow{
		ID:            key.ID,
		ClientID:      key.ClientID,
		KeyValue:      key.KeyValue,
		Permissions:   perms,
		Active:        key.Active,
		CreatedAt:     toUnix(key.CreatedAt),
		ExpiresAt:     toUnix(key.ExpiresAt),
		DeactivatedAt: toNullUnix(key.DeactivatedAt),
	})
	if err != nil {
		return fmt.Errorf("inserting key %s: %w", key.ID, err)
	}
	for _, h := range key.WarningLedger {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO key_warning_ledger (key_id, lead_hours, sent_at) VALUES (?, ?, ?)",
			key.ID, h, toUnix(key.CreatedAt),
		); err != nil {
			return fmt.Errorf("seeding ledger of key %s: %w", key.ID, err)
		}
	}
	return tx.Commit()
}

// GetKey loads a key and its warning ledger.
func (s *SQLiteStore) GetKey(ctx context.Context, id string) (*models.ClientAccessKey, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM client_access_keys WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", id, err)
	}
	keys, err := s.withLedgers(ctx, []keyRow{row})
	if err != nil {
		return nil, err
	}
	return &keys[0], nil
}

// ExpiredActiveKeys returns up to limit active keys whose expiry is at or
// before now, oldest expiry first.
func (s *SQLiteStore) ExpiredActiveKeys(ctx context.Context, now time.Time, limit int) ([]models.ClientAccessKey, error) {
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM client_access_keys
		WHERE active = 1 AND expires_at <= ?
		ORDER BY expires_at ASC, id ASC
		LIMIT ?`, toUnix(now), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing expired keys: %w", err)
	}
	return s.withLedgers(ctx, rows)
}

// ExpiringKeys returns up to limit active keys expiring within (now, now+lead]
// whose ledger does not yet hold leadHours.
func (s *SQLiteStore) ExpiringKeys(ctx context.Context, now time.Time, leadHours, limit int) ([]models.ClientAccessKey, error) {
	until := now.Add(time.Duration(leadHours) * time.Hour)
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT k.* FROM client_access_keys k
		WHERE k.active = 1 AND k.expires_at > ? AND k.expires_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM key_warning_ledger l
			WHERE l.key_id = k.id AND l.lead_hours = ?
		  )
		ORDER BY k.expires_at ASC, k.id ASC
		LIMIT ?`, toUnix(now), toUnix(until), leadHours, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing keys expiring within %dh: %w", leadHours, err)
	}
	return s.withLedgers(ctx, rows)
}

// DeactivateKey marks an active key inactive. It reports false when the key
// was already inactive.
func (s *SQLiteStore) DeactivateKey(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE client_access_keys SET active = 0, deactivated_at = ? WHERE id = ? AND active = 1",
		toUnix(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("deactivating key %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for key %s: %w", id, err)
	}
	return n == 1, nil
}

// AppendWarning adds leadHours to the key's ledger. Entries are never removed.
func (s *SQLiteStore) AppendWarning(ctx context.Context, keyID string, leadHours int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO key_warning_ledger (key_id, lead_hours, sent_at) VALUES (?, ?, ?)",
		keyID, leadHours, toUnix(at),
	)
	if err != nil {
		return fmt.Errorf("appending %dh warning to key %s: %w", leadHours, keyID, err)
	}
	return nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *SQLiteStore) withLedgers(ctx context.Context, rows []keyRow) ([]models.ClientAccessKey, error) {
	keys := make([]models.ClientAccessKey, 0, len(rows))
	if len(rows) == 0 {
		return keys, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	query, args, err := sqlx.In(
		"SELECT key_id, lead_hours FROM key_warning_ledger WHERE key_id IN (?) ORDER BY lead_hours DESC", ids)
	if err != nil {
		return nil, fmt.Errorf("building ledger query: %w", err)
	}
	var entries []struct {
		KeyID     string `db:"key_id"`
		LeadHours int    `db:"lead_hours"`
	}
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("loading warning ledgers: %w", err)
	}
	ledgers := make(map[string]models.WarningLedger, len(rows))
	for _, e := range entries {
		ledgers[e.KeyID] = append(ledgers[e.KeyID], e.LeadHours)
	}

	for _, r := range rows {
		key, err := r.model()
		if err != nil {
			return nil, err
		}
		key.WarningLedger = ledgers[r.ID]
		keys = append(keys, key)
	}
	return keys, nil
}
