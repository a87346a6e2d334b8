package db

import (
	"context"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(id, recipient_id, actor_id, type, post_id, comment_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT id, recipient_id, actor_id, type, post_id, comment_id, message, read, created_at
		FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountUnread      = `SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = FALSE`
	sqlMarkRead         = `UPDATE notifications SET read = TRUE WHERE id = ? AND recipient_id = ?`
	sqlMarkAllRead      = `UPDATE notifications SET read = TRUE WHERE recipient_id = ? AND read = FALSE`
	sqlCountByRecipient = `SELECT COUNT(*) FROM notifications WHERE recipient_id = ?`

	sqlUpsertPushSubscription = `INSERT INTO push_subscriptions(id, actor_id, endpoint, p256dh, auth, user_agent, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT (actor_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent,
			active = TRUE,
			updated_at = excluded.updated_at`
	sqlSelectPushColumns      = `SELECT id, actor_id, endpoint, p256dh, auth, user_agent, active, created_at, updated_at FROM push_subscriptions`
	sqlSelectActivePush       = sqlSelectPushColumns + ` WHERE actor_id = ? AND active = TRUE ORDER BY created_at ASC`
	sqlSelectPushByEndpoint   = sqlSelectPushColumns + ` WHERE actor_id = ? AND endpoint = ?`
	sqlDeactivatePush         = `UPDATE push_subscriptions SET active = FALSE, updated_at = ? WHERE id = ?`
	sqlDeactivatePushEndpoint = `UPDATE push_subscriptions SET active = FALSE, updated_at = ? WHERE actor_id = ? AND endpoint = ?`
)

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.Id == uuid.Nil {
		n.Id = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlInsertNotification,
		n.Id, n.RecipientId, n.ActorId, n.Type, n.PostId, n.CommentId, n.Message, n.Read, n.CreatedAt.UTC())
	return err
}

// ReadNotifications pages through a recipient's notifications, newest first.
func (db *DB) ReadNotifications(ctx context.Context, recipientId uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	var ns []domain.Notification
	if err := db.selectAll(ctx, &ns, sqlSelectNotifications, recipientId, limit, offset); err != nil {
		return nil, err
	}
	return ns, nil
}

func (db *DB) CountUnreadNotifications(ctx context.Context, recipientId uuid.UUID) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountUnread, recipientId)
	return n, err
}

func (db *DB) CountNotifications(ctx context.Context, recipientId uuid.UUID) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountByRecipient, recipientId)
	return n, err
}

// MarkNotificationRead flags one notification read. A notification owned
// by someone else is reported as domain.ErrNotFound.
func (db *DB) MarkNotificationRead(ctx context.Context, recipientId, id uuid.UUID) error {
	return notFoundIfNone(db.exec(ctx, sqlMarkRead, id, recipientId))
}

// MarkAllNotificationsRead returns how many notifications changed.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, recipientId uuid.UUID) (int64, error) {
	return db.exec(ctx, sqlMarkAllRead, recipientId)
}

// UpsertPushSubscription registers an endpoint or refreshes the keys of a
// known one, reactivating it.
func (db *DB) UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	if sub.Id == uuid.Nil {
		sub.Id = uuid.New()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}
	_, err := db.exec(ctx, sqlUpsertPushSubscription,
		sub.Id, sub.ActorId, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	return err
}

func (db *DB) ReadActivePushSubscriptions(ctx context.Context, actorId uuid.UUID) ([]domain.PushSubscription, error) {
	var subs []domain.PushSubscription
	if err := db.selectAll(ctx, &subs, sqlSelectActivePush, actorId); err != nil {
		return nil, err
	}
	return subs, nil
}

func (db *DB) ReadPushSubscription(ctx context.Context, actorId uuid.UUID, endpoint string) (*domain.PushSubscription, error) {
	var sub domain.PushSubscription
	if err := db.get(ctx, &sub, sqlSelectPushByEndpoint, actorId, endpoint); err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeactivatePushSubscription soft-deletes a subscription by id.
func (db *DB) DeactivatePushSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := db.exec(ctx, sqlDeactivatePush, time.Now().UTC(), id)
	return err
}

// DeactivatePushEndpoint soft-deletes an actor's endpoint. Absence is not an error.
func (db *DB) DeactivatePushEndpoint(ctx context.Context, actorId uuid.UUID, endpoint string) error {
	_, err := db.exec(ctx, sqlDeactivatePushEndpoint, time.Now().UTC(), actorId, endpoint)
	return err
}
