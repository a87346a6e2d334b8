package db

import (
	"context"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertInboxItem = `INSERT INTO inbox_items(id, actor_id, activity_uri, activity_type, raw_json, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectInboxColumns  = `SELECT id, actor_id, activity_uri, activity_type, raw_json, processed, created_at FROM inbox_items`
	sqlSelectInboxByURI    = sqlSelectInboxColumns + ` WHERE actor_id = ? AND activity_uri = ?`
	sqlSelectInboxByActor  = sqlSelectInboxColumns + ` WHERE actor_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlMarkInboxProcessed  = `UPDATE inbox_items SET processed = TRUE WHERE id = ?`
	sqlSelectUnprocessed   = sqlSelectInboxColumns + ` WHERE processed = FALSE ORDER BY created_at ASC LIMIT ?`
	sqlInsertOutboxItem    = `INSERT INTO outbox_items(id, actor_id, activity_uri, activity_type, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectOutboxColumns = `SELECT id, actor_id, activity_uri, activity_type, raw_json, created_at FROM outbox_items`
	sqlSelectOutboxByActor = sqlSelectOutboxColumns + ` WHERE actor_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlSelectOutboxByType  = sqlSelectOutboxColumns + ` WHERE actor_id = ? AND activity_type = ? ORDER BY created_at DESC LIMIT ?`
	sqlSelectOutboxByURI   = sqlSelectOutboxColumns + ` WHERE actor_id = ? AND activity_uri = ?`
	sqlCountOutbox         = `SELECT COUNT(*) FROM outbox_items WHERE actor_id = ?`
)

// CreateInboxItem records a received activity. A replayed activity id for
// the same actor yields domain.ErrDuplicateActivity.
func (db *DB) CreateInboxItem(ctx context.Context, item *domain.InboxItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlInsertInboxItem,
		item.Id, item.ActorId, item.ActivityURI, item.ActivityType, item.RawJSON, item.Processed, item.CreatedAt.UTC())
	return conflict(err, domain.ErrDuplicateActivity)
}

func (db *DB) ReadInboxItemByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.InboxItem, error) {
	var item domain.InboxItem
	if err := db.get(ctx, &item, sqlSelectInboxByURI, actorId, uri); err != nil {
		return nil, err
	}
	return &item, nil
}

// ReadInboxItems pages through an actor's inbox, newest first.
func (db *DB) ReadInboxItems(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.InboxItem, error) {
	var items []domain.InboxItem
	if err := db.selectAll(ctx, &items, sqlSelectInboxByActor, actorId, limit, offset); err != nil {
		return nil, err
	}
	return items, nil
}

// ReadUnprocessedInboxItems returns the oldest inbox rows whose effects
// have not been applied yet.
func (db *DB) ReadUnprocessedInboxItems(ctx context.Context, limit int) ([]domain.InboxItem, error) {
	var items []domain.InboxItem
	if err := db.selectAll(ctx, &items, sqlSelectUnprocessed, limit); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkInboxItemProcessed flags the row processed. Repeating it succeeds.
func (db *DB) MarkInboxItemProcessed(ctx context.Context, id uuid.UUID) error {
	return notFoundIfNone(db.exec(ctx, sqlMarkInboxProcessed, id))
}

// CreateOutboxItem records a sent activity.
func (db *DB) CreateOutboxItem(ctx context.Context, item *domain.OutboxItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlInsertOutboxItem,
		item.Id, item.ActorId, item.ActivityURI, item.ActivityType, item.RawJSON, item.CreatedAt.UTC())
	return conflict(err, domain.ErrDuplicateActivity)
}

// ReadOutboxItems pages through an actor's outbox, newest first.
func (db *DB) ReadOutboxItems(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.OutboxItem, error) {
	var items []domain.OutboxItem
	if err := db.selectAll(ctx, &items, sqlSelectOutboxByActor, actorId, limit, offset); err != nil {
		return nil, err
	}
	return items, nil
}

// ReadOutboxItemsByType returns the newest outbox rows of one activity type.
func (db *DB) ReadOutboxItemsByType(ctx context.Context, actorId uuid.UUID, activityType string, limit int) ([]domain.OutboxItem, error) {
	var items []domain.OutboxItem
	if err := db.selectAll(ctx, &items, sqlSelectOutboxByType, actorId, activityType, limit); err != nil {
		return nil, err
	}
	return items, nil
}

func (db *DB) ReadOutboxItemByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.OutboxItem, error) {
	var item domain.OutboxItem
	if err := db.get(ctx, &item, sqlSelectOutboxByURI, actorId, uri); err != nil {
		return nil, err
	}
	return &item, nil
}

func (db *DB) CountOutboxItems(ctx context.Context, actorId uuid.UUID) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountOutbox, actorId)
	return n, err
}
