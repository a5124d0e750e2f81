package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/jobsync/internal/server/storage"
)

// dbtx - общее подмножество *sql.DB и *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const upsertQuery = `
	INSERT INTO records (user_id, entity, id, data, updated_at, server_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, entity, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at,
		server_time = excluded.server_time
	WHERE ? = 1 OR excluded.updated_at >= records.updated_at
`

// Upsert creates or replaces a record using last-write-wins by updatedAt.
// Равный updatedAt перезаписывает: повторная отправка той же версии
// не считается конфликтом.
func (s *Storage) Upsert(ctx context.Context, rec *storage.Record, force bool) (*storage.Record, bool, error) {
	if err := checkRecord(rec); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := upsert(ctx, s.db, rec, s.clock.Tick(), force)
	if err != nil {
		return nil, false, err
	}

	stored, err := get(ctx, s.db, rec.UserID, rec.Entity, rec.ID)
	if err != nil {
		return nil, false, err
	}

	return stored, saved, nil
}

// UpsertBatch writes all records in a single transaction: either every
// accepted record is stored or none.
func (s *Storage) UpsertBatch(ctx context.Context, recs []*storage.Record, force bool) (int, int64, error) {
	for _, rec := range recs {
		if err := checkRecord(rec); err != nil {
			return 0, 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Tick()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	saved := 0
	for _, rec := range recs {
		ok, err := upsert(ctx, tx, rec, now, force)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			saved++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return saved, now, nil
}

// ListSince retrieves records of a collection written after since.
// Returns empty slice if no records found
func (s *Storage) ListSince(ctx context.Context, userID, entity string, since int64) ([]*storage.Record, int64, error) {
	query := `
		SELECT user_id, entity, id, data, updated_at, server_time
		FROM records
		WHERE user_id = ? AND entity = ? AND server_time > ?
		ORDER BY server_time ASC, id ASC
	`

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Tick()

	rows, err := s.db.QueryContext(ctx, query, userID, entity, since)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	return records, now, nil
}

// Get retrieves a single record
// Returns ErrRecordNotFound if record doesn't exist
func (s *Storage) Get(ctx context.Context, userID, entity, id string) (*storage.Record, error) {
	return get(ctx, s.db, userID, entity, id)
}

// Delete removes a record permanently
// Returns ErrRecordNotFound if record doesn't exist
func (s *Storage) Delete(ctx context.Context, userID, entity, id string) error {
	query := `DELETE FROM records WHERE user_id = ? AND entity = ? AND id = ?`

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, query, userID, entity, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrRecordNotFound
	}

	return nil
}

func upsert(ctx context.Context, db dbtx, rec *storage.Record, now int64, force bool) (bool, error) {
	result, err := db.ExecContext(ctx, upsertQuery,
		rec.UserID,
		rec.Entity,
		rec.ID,
		string(rec.Data),
		rec.UpdatedAt,
		now,
		boolToInt(force),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

func get(ctx context.Context, db dbtx, userID, entity, id string) (*storage.Record, error) {
	query := `
		SELECT user_id, entity, id, data, updated_at, server_time
		FROM records
		WHERE user_id = ? AND entity = ? AND id = ?
	`

	rec := &storage.Record{}
	var data string

	err := db.QueryRowContext(ctx, query, userID, entity, id).Scan(
		&rec.UserID,
		&rec.Entity,
		&rec.ID,
		&data,
		&rec.UpdatedAt,
		&rec.ServerTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.Data = []byte(data)
	return rec, nil
}

// scanRecords is a helper function to scan multiple records from rows
func scanRecords(rows *sql.Rows) ([]*storage.Record, error) {
	records := []*storage.Record{}

	for rows.Next() {
		rec := &storage.Record{}
		var data string

		if err := rows.Scan(
			&rec.UserID,
			&rec.Entity,
			&rec.ID,
			&data,
			&rec.UpdatedAt,
			&rec.ServerTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Data = []byte(data)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func checkRecord(rec *storage.Record) error {
	if rec == nil || rec.ID == "" || rec.UserID == "" || rec.Entity == "" {
		return fmt.Errorf("%w: user, entity and id are required", storage.ErrInvalidRecord)
	}
	if len(rec.Data) == 0 {
		return fmt.Errorf("%w: empty data for %s", storage.ErrInvalidRecord, rec.ID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
