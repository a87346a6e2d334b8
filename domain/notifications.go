package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationMention NotificationType = "mention"
	NotificationShare   NotificationType = "share"
)

// Notification tells a local actor that someone interacted with them.
type Notification struct {
	Id          uuid.UUID        `db:"id" json:"id"`
	RecipientId uuid.UUID        `db:"recipient_id" json:"recipientId"`
	ActorId     uuid.UUID        `db:"actor_id" json:"actorId"`
	Type        NotificationType `db:"type" json:"type"`
	PostId      *uuid.UUID       `db:"post_id" json:"postId,omitempty"`
	CommentId   *uuid.UUID       `db:"comment_id" json:"commentId,omitempty"`
	Message     string           `db:"message" json:"message"`
	Read        bool             `db:"read" json:"read"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// PushSubscription is a Web Push endpoint registered by a local actor.
type PushSubscription struct {
	Id        uuid.UUID `db:"id" json:"id"`
	ActorId   uuid.UUID `db:"actor_id" json:"actorId"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	P256dh    string    `db:"p256dh" json:"p256dh"`
	Auth      string    `db:"auth" json:"auth"`
	UserAgent string    `db:"user_agent" json:"userAgent,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
