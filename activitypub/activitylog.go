package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LogStore persists inbound and outbound activities.
type LogStore interface {
	CreateInboxItem(ctx context.Context, item *domain.InboxItem) error
	MarkInboxItemProcessed(ctx context.Context, id uuid.UUID) error
	ReadInboxItems(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.InboxItem, error)
	ReadInboxItemByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.InboxItem, error)
	ReadUnprocessedInboxItems(ctx context.Context, limit int) ([]domain.InboxItem, error)
	CreateOutboxItem(ctx context.Context, item *domain.OutboxItem) error
	ReadOutboxItems(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.OutboxItem, error)
	ReadOutboxItemByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.OutboxItem, error)
}

// ActivityLog records federation traffic per actor. The inbound log
// rejects replays of an activity id.
type ActivityLog struct {
	store LogStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewActivityLog(store LogStore, log zerolog.Logger) *ActivityLog {
	return &ActivityLog{
		store: store,
		log:   log.With().Str("component", "activitylog").Logger(),
		now:   time.Now,
	}
}

// AppendInbound records a received activity. A replay yields
// domain.ErrDuplicateActivity.
func (l *ActivityLog) AppendInbound(ctx context.Context, actorId uuid.UUID, activityURI, activityType string, raw []byte) (*domain.InboxItem, error) {
	item := &domain.InboxItem{
		Id:           uuid.New(),
		ActorId:      actorId,
		ActivityURI:  activityURI,
		ActivityType: activityType,
		RawJSON:      string(raw),
		CreatedAt:    l.now(),
	}
	if err := l.store.CreateInboxItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// InboundByURI returns the inbox row an activity id was recorded under.
func (l *ActivityLog) InboundByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.InboxItem, error) {
	return l.store.ReadInboxItemByURI(ctx, actorId, uri)
}

// Unprocessed returns the oldest inbox rows, across all actors, whose
// effects have not been applied.
func (l *ActivityLog) Unprocessed(ctx context.Context, limit int) ([]domain.InboxItem, error) {
	limit, _ = ClampPage(limit, 0)
	return l.store.ReadUnprocessedInboxItems(ctx, limit)
}

// AppendOutbound records a sent activity.
func (l *ActivityLog) AppendOutbound(ctx context.Context, actorId uuid.UUID, activityURI, activityType string, raw []byte) (*domain.OutboxItem, error) {
	item := &domain.OutboxItem{
		Id:           uuid.New(),
		ActorId:      actorId,
		ActivityURI:  activityURI,
		ActivityType: activityType,
		RawJSON:      string(raw),
		CreatedAt:    l.now(),
	}
	if err := l.store.CreateOutboxItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkProcessed flags an inbox row processed. Repeating it, or marking a
// row that is gone, succeeds.
func (l *ActivityLog) MarkProcessed(ctx context.Context, inboxItemId uuid.UUID) error {
	err := l.store.MarkInboxItemProcessed(ctx, inboxItemId)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// ListInbox pages through an actor's inbox, newest first.
func (l *ActivityLog) ListInbox(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.InboxItem, error) {
	limit, offset = ClampPage(limit, offset)
	return l.store.ReadInboxItems(ctx, actorId, limit, offset)
}

// ListOutbox pages through an actor's outbox, newest first.
func (l *ActivityLog) ListOutbox(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.OutboxItem, error) {
	limit, offset = ClampPage(limit, offset)
	return l.store.ReadOutboxItems(ctx, actorId, limit, offset)
}

// OutboundByURI returns a logged outbound activity.
func (l *ActivityLog) OutboundByURI(ctx context.Context, actorId uuid.UUID, uri string) (*domain.OutboxItem, error) {
	return l.store.ReadOutboxItemByURI(ctx, actorId, uri)
}

// ClampPage bounds a page request to sane values.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
