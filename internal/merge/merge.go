// Package merge reconciles a local and a cloud record set.
//
// The merge is a pure function: inputs are never modified, every record in
// the result is a fresh copy.
package merge

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/iudanet/jobsync/internal/models"
)

// Strategy decides non-conflicting overlaps between local and cloud copies.
type Strategy string

const (
	LatestWins Strategy = "latest-wins" // более новая копия побеждает
	CloudWins  Strategy = "cloud-wins"  // облако побеждает всегда
	LocalWins  Strategy = "local-wins"  // локальная копия побеждает всегда
)

// DefaultConflictWindow is the maximum timestamp distance between edits from
// two devices that is treated as a concurrent edit.
const DefaultConflictWindow = 5 * time.Minute

// ParseStrategy converts a configuration value into a Strategy.
// An empty string selects LatestWins.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return LatestWins, nil
	case LatestWins, CloudWins, LocalWins:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", s)
}

// Options parameterizes Records.
type Options struct {
	Strategy       Strategy
	ConflictWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = LatestWins
	}
	if o.ConflictWindow <= 0 {
		o.ConflictWindow = DefaultConflictWindow
	}
	return o
}

// Resolution is the user's choice for a conflict pair.
type Resolution string

const (
	ResolveLocal Resolution = "local"
	ResolveCloud Resolution = "cloud"
	ResolveMerge Resolution = "merge" // обе копии сохраняются, локальная под новым id
)

// ParseResolution converts user input into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolveLocal, ResolveCloud, ResolveMerge:
		return r, nil
	}
	return "", fmt.Errorf("unknown conflict resolution %q", s)
}

// Conflict is a local/cloud pair with the same id whose divergence cannot be
// resolved automatically.
type Conflict[T any] struct {
	Local      T          `json:"local"`
	Cloud      T          `json:"cloud"`
	Resolution Resolution `json:"resolution,omitempty"`
}

// Result is the outcome of a merge.
type Result[T any] struct {
	Merged    []T
	Conflicts []Conflict[T]
}

// Records merges local and cloud.
//
// Every cloud record is taken as synced. For each local record:
//   - without a cloud counterpart it is kept; it becomes pending unless the
//     server already confirmed it (synced with a syncedAt)
//   - edits from different devices whose timestamps differ by less than the
//     conflict window are a conflict: the local copy is kept marked conflict
//     and the pair is reported
//   - otherwise opts.Strategy picks the winner
//
// The merged set is ordered by createdAt, newest first, then by id.
func Records[T models.Record[T]](local, cloud []T, opts Options) Result[T] {
	opts = opts.withDefaults()

	merged := make([]T, 0, len(local)+len(cloud))
	index := make(map[string]int, len(cloud))

	for _, c := range cloud {
		rec := c.Clone()
		rec.SyncMeta().SyncStatus = models.SyncStatusSynced
		if pos, ok := index[rec.SyncMeta().ID]; ok {
			// Дубликат в ответе сервера: оставляем более новую версию
			if rec.SyncMeta().Timestamp() >= merged[pos].SyncMeta().Timestamp() {
				merged[pos] = rec
			}
			continue
		}
		index[rec.SyncMeta().ID] = len(merged)
		merged = append(merged, rec)
	}

	var conflicts []Conflict[T]

	for _, l := range local {
		lm := l.SyncMeta()
		pos, ok := index[lm.ID]

		if !ok {
			rec := l.Clone()
			if !confirmed(rec.SyncMeta()) {
				rec.SyncMeta().SyncStatus = models.SyncStatusPending
			}
			index[lm.ID] = len(merged)
			merged = append(merged, rec)
			continue
		}

		c := merged[pos]
		cm := c.SyncMeta()
		localTime, cloudTime := lm.Timestamp(), cm.Timestamp()

		// Подтвержденная версия без локальных правок: берем облачную
		if confirmed(lm) && cloudTime >= localTime {
			continue
		}

		if isConflict(lm, cm, opts.ConflictWindow) {
			rec := l.Clone()
			rec.SyncMeta().SyncStatus = models.SyncStatusConflict
			merged[pos] = rec
			conflicts = append(conflicts, Conflict[T]{Local: l.Clone(), Cloud: c.Clone()})
			continue
		}

		switch opts.Strategy {
		case LocalWins:
			rec := l.Clone()
			if localTime != cloudTime {
				rec.SyncMeta().SyncStatus = models.SyncStatusPending
			} else {
				rec.SyncMeta().SyncStatus = models.SyncStatusSynced
			}
			merged[pos] = rec
		case CloudWins:
			// облачная копия уже на месте
		default:
			if localTime > cloudTime {
				rec := l.Clone()
				rec.SyncMeta().SyncStatus = models.SyncStatusPending
				merged[pos] = rec
			}
		}
	}

	Sort(merged)

	return Result[T]{Merged: merged, Conflicts: conflicts}
}

// confirmed reports whether the server has acknowledged this exact version.
func confirmed(m *models.Meta) bool {
	return m.SyncStatus == models.SyncStatusSynced && m.SyncedAt > 0
}

func isConflict(local, cloud *models.Meta, window time.Duration) bool {
	if local.DeviceID == cloud.DeviceID {
		return false
	}
	delta := local.Timestamp() - cloud.Timestamp()
	if delta < 0 {
		delta = -delta
	}
	return delta > 0 && delta < window.Milliseconds()
}

// Sort orders records by createdAt descending, then by id.
func Sort[T models.Syncable](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		am, bm := a.SyncMeta(), b.SyncMeta()
		if c := cmp.Compare(bm.CreatedAt, am.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(am.ID, bm.ID)
	})
}
