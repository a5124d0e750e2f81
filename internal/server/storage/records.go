package storage

import (
	"context"
	"encoding/json"
)

// Record - запись коллекции в том виде, в каком ее прислал клиент.
// Сервер не разбирает содержимое, кроме служебных полей id и updatedAt.
type Record struct {
	Data       json.RawMessage // исходный JSON записи
	UserID     string
	Entity     string
	ID         string
	UpdatedAt  int64 // updatedAt записи, по нему работает last-write-wins
	ServerTime int64 // момент последней записи на сервере, по нему считается дельта
}

// RecordStorage defines interface for record collections persistence
type RecordStorage interface {
	// Upsert stores rec unless the stored version has a newer updatedAt.
	// force skips the comparison. Returns the version kept by the server
	// and whether rec was written.
	Upsert(ctx context.Context, rec *Record, force bool) (*Record, bool, error)

	// UpsertBatch applies Upsert to every record in one transaction.
	// Returns the number of written records and the server time of the write.
	UpsertBatch(ctx context.Context, recs []*Record, force bool) (int, int64, error)

	// ListSince returns records of the collection written after since
	// (server time) and the server time of the read. since=0 returns all.
	ListSince(ctx context.Context, userID, entity string, since int64) ([]*Record, int64, error)

	// Get returns a single record.
	// Returns ErrRecordNotFound if the record doesn't exist
	Get(ctx context.Context, userID, entity, id string) (*Record, error)

	// Delete removes the record permanently.
	// Returns ErrRecordNotFound if the record doesn't exist
	Delete(ctx context.Context, userID, entity, id string) error

	// Ping checks that the database is reachable
	Ping(ctx context.Context) error
}
