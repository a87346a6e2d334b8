package db

import (
	"context"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertDelivery = `INSERT INTO delivery_queue(id, actor_id, inbox_uri, activity_json, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, actor_id, inbox_uri, activity_json, attempts, next_retry_at, created_at
		FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDelivery = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountDelivery  = `SELECT COUNT(*) FROM delivery_queue`
)

// EnqueueDelivery schedules a signed POST of the activity to the inbox.
func (db *DB) EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	_, err := db.exec(ctx, sqlInsertDelivery,
		item.Id, item.ActorId, item.InboxURI, item.ActivityJSON, item.Attempts, item.NextRetryAt.UTC(), item.CreatedAt.UTC())
	return err
}

// ReadPendingDeliveries returns queue items due at or before now.
func (db *DB) ReadPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	var items []domain.DeliveryQueueItem
	if err := db.selectAll(ctx, &items, sqlSelectPendingDeliveries, now.UTC(), limit); err != nil {
		return nil, err
	}
	return items, nil
}

func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return notFoundIfNone(db.exec(ctx, sqlUpdateDelivery, attempts, nextRetryAt.UTC(), id))
}

func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	_, err := db.exec(ctx, sqlDeleteDelivery, id)
	return err
}

func (db *DB) CountDeliveries(ctx context.Context) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountDelivery)
	return n, err
}
