package storage

import (
	"context"
	"errors"
	"time"

	"github.com/way365/notiq/internal/models"
)

// ErrDuplicateMessageID is returned by Insert when the message_id already
// exists in the store.
var ErrDuplicateMessageID = errors.New("duplicate message id")

// Store is the durable source of truth for message records. Every mutation
// is a single atomic row update, so a crashed or abandoned delivery attempt
// can never leave a record half-written. Implementations must be safe for
// concurrent use: the scavenger and inline senders share one Store.
type Store interface {
	// Insert persists a new record. Fails with ErrDuplicateMessageID if the
	// message_id is already taken.
	Insert(ctx context.Context, m *models.Message) error

	// FindDue returns pending records whose next_retry_at has elapsed,
	// oldest first, capped at limit. Pure read.
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error)

	// FindByMessageID returns (nil, nil) when no record exists.
	FindByMessageID(ctx context.Context, messageID string) (*models.Message, error)

	// UpdateStatus moves a pending record to a terminal status. retryCount
	// is written in the same statement so the final attempt count and the
	// outcome are never visible independently. A record that is already
	// sent or dead is left untouched.
	UpdateStatus(ctx context.Context, messageID string, status models.Status, retryCount int, lastError string) error

	// UpdateRetry records a retry scheduling decision. The record stays
	// pending; retry_count, next_retry_at and last_error change together.
	UpdateRetry(ctx context.Context, messageID string, retryCount int, nextRetryAt time.Time, lastError string) error

	// ListByStatus pages records in a given status, oldest first.
	ListByStatus(ctx context.Context, status models.Status, limit, offset int) ([]models.Message, error)

	// Requeue puts a dead record back into rotation: status pending,
	// retry_count zeroed, immediately due. Used for manual intervention.
	Requeue(ctx context.Context, messageID string) error

	// Delete removes a record by message_id. Operational cleanup only; the
	// queue itself never deletes.
	Delete(ctx context.Context, messageID string) error

	Stats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Dead    int64 `json:"dead"`
}
