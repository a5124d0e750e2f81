package sync

import (
	"context"
	"encoding/json"

	"github.com/iudanet/jobsync/pkg/api"
)

//go:generate moq -out remote_mock.go . Remote

// Remote is the record API the engine talks to. *api.Client from
// internal/client/api implements it.
type Remote interface {
	Fetch(ctx context.Context, entity string, since int64) (*api.FetchResponse, error)
	Upsert(ctx context.Context, entity string, item json.RawMessage) (*api.UpsertResponse, error)
	BatchSync(ctx context.Context, entity string, req api.BatchSyncRequest) (*api.BatchSyncResponse, error)
	Delete(ctx context.Context, entity, id string) error
}
