package queue

import (
	"fmt"
	"maps"
)

// OpType is the kind of a queued mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// DefaultMaxRetries is used for operations enqueued without a limit
const DefaultMaxRetries = 5

// Operation is a pending mutation awaiting remote confirmation.
// Data holds the record payload; for deletes it holds the record snapshot
// used to restore it when the delete finally fails.
type Operation struct {
	Data        map[string]any `json:"data,omitempty"`
	ID          string         `json:"id"`
	Type        OpType         `json:"type"`
	EntityType  string         `json:"entityType"`
	Timestamp   int64          `json:"timestamp"`
	LastAttempt int64          `json:"lastAttempt,omitempty"`
	NextAttempt int64          `json:"nextAttempt,omitempty"`
	Retries     int            `json:"retries"`
	MaxRetries  int            `json:"maxRetries"`
}

// Key identifies the entry an operation belongs to.
func (o Operation) Key() string {
	return o.EntityType + "/" + o.ID
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Type, o.Key())
}

// Exhausted reports whether the retry budget is spent.
func (o Operation) Exhausted() bool {
	return o.Retries >= o.MaxRetries
}

// collapse folds next into existing. It returns the resulting entry and false
// when the two cancel out and the entry must be removed.
func collapse(existing, next Operation) (Operation, bool) {
	if next.Type == OpDelete {
		if existing.Type == OpCreate {
			// Запись ни разу не дошла до сервера, удалять там нечего
			return Operation{}, false
		}
		return next, true
	}

	merged := existing
	if existing.Type != OpCreate {
		merged.Type = OpUpdate
	}

	merged.Data = make(map[string]any, len(existing.Data)+len(next.Data))
	maps.Copy(merged.Data, existing.Data)
	maps.Copy(merged.Data, next.Data)
	merged.Timestamp = next.Timestamp

	return merged, true
}
