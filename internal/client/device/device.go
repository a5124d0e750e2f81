// Package device manages the stable per-install device identifier.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/jobsync/internal/client/storage"
)

const (
	prefix       = "device"
	randomLength = 9
)

// NewID generates a device identifier of the form device_<unixMillis>_<random>.
func NewID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:randomLength]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), random)
}

// ID returns the device identifier stored under key, generating and persisting
// one on first access. Generation and persistence happen in a single storage
// transaction, so concurrent first calls agree on one value.
func ID(ctx context.Context, kv storage.KV, key string) (string, error) {
	var id string

	err := kv.Update(ctx, key, func(current []byte) ([]byte, error) {
		if len(current) > 0 {
			id = string(current)
			return current, nil
		}
		id = NewID(time.Now())
		return []byte(id), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}

	return id, nil
}
