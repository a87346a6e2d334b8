// Package notify turns local social events into persisted notifications
// and hands them to push delivery in the background.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/push"
	"github.com/deemkeen/tusk/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	pushTimeout = 30 * time.Second
)

// Store persists notifications and resolves the actors they mention.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ReadNotifications(ctx context.Context, recipientId uuid.UUID, limit, offset int) ([]domain.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientId uuid.UUID) (int, error)
	CountNotifications(ctx context.Context, recipientId uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, recipientId, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, recipientId uuid.UUID) (int64, error)
	ReadProfile(ctx context.Context, id uuid.UUID) (domain.Profile, error)
	ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error)
}

// Pusher fans a payload out to an actor's push subscriptions.
type Pusher interface {
	Deliver(ctx context.Context, actorId uuid.UUID, payload push.Payload) push.Result
}

// Submitter runs tasks in the background without blocking.
type Submitter interface {
	Submit(task worker.Task) bool
}

// Event describes something an actor did that a local actor should hear about.
type Event struct {
	RecipientId uuid.UUID
	ActorId     uuid.UUID
	Type        domain.NotificationType
	PostId      *uuid.UUID
	CommentId   *uuid.UUID
	Message     string // rendered from the actor's name and Type when empty
}

type Dispatcher struct {
	store  Store
	pusher Pusher
	pool   Submitter
	log    zerolog.Logger
	now    func() time.Time
}

// NewDispatcher returns a dispatcher. A nil pusher or pool disables push.
func NewDispatcher(store Store, pusher Pusher, pool Submitter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		pusher: pusher,
		pool:   pool,
		log:    log.With().Str("component", "notify").Logger(),
		now:    time.Now,
	}
}

// Notify persists the notification and schedules its push. Failures are
// logged and reported as a nil result, never as an error. Notify does not
// check whether the recipient caused the event; see NotifyUnlessSelf.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) *domain.Notification {
	profile, err := d.store.ReadProfile(ctx, ev.ActorId)
	if err != nil {
		d.log.Debug().Err(err).Str("actor", ev.ActorId.String()).Msg("Acting actor has no profile")
		profile = domain.Profile{Id: ev.ActorId, Username: "someone"}
	}

	message := ev.Message
	if message == "" {
		message = defaultMessage(profile.Name(), ev.Type)
	}

	n := &domain.Notification{
		Id:          uuid.New(),
		RecipientId: ev.RecipientId,
		ActorId:     ev.ActorId,
		Type:        ev.Type,
		PostId:      ev.PostId,
		CommentId:   ev.CommentId,
		Message:     message,
		CreatedAt:   d.now(),
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		notificationsFailed.Inc()
		d.log.Error().Err(err).Str("type", string(ev.Type)).Str("recipient", ev.RecipientId.String()).Msg("Failed to create notification")
		return nil
	}
	notificationsCreated.WithLabelValues(string(ev.Type)).Inc()

	d.schedulePush(n, profile)
	return n
}

// NotifyUnlessSelf is Notify guarded against actors notifying themselves.
func (d *Dispatcher) NotifyUnlessSelf(ctx context.Context, ev Event) *domain.Notification {
	if ev.RecipientId == ev.ActorId {
		return nil
	}
	return d.Notify(ctx, ev)
}

// NotifyMentions sends a mention notification to every distinct local
// handle mentioned in content, except the author. It returns how many
// notifications were created.
func (d *Dispatcher) NotifyMentions(ctx context.Context, authorId uuid.UUID, authorHandle string, postId uuid.UUID, content string) int {
	return d.NotifyHandles(ctx, authorId, authorHandle, &postId, ExtractMentions(content))
}

// NotifyHandles sends a mention notification to each resolvable handle.
// Unknown handles are skipped silently.
func (d *Dispatcher) NotifyHandles(ctx context.Context, authorId uuid.UUID, authorHandle string, postId *uuid.UUID, handles []string) int {
	created := 0
	for _, handle := range handles {
		if handle == authorHandle {
			continue
		}
		recipient, err := d.store.ReadActorByUsername(ctx, handle)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			d.log.Warn().Err(err).Str("handle", handle).Msg("Failed to resolve mention")
			continue
		}
		if n := d.NotifyUnlessSelf(ctx, Event{
			RecipientId: recipient.Id,
			ActorId:     authorId,
			Type:        domain.NotificationMention,
			PostId:      postId,
		}); n != nil {
			created++
		}
	}
	return created
}

func (d *Dispatcher) schedulePush(n *domain.Notification, actor domain.Profile) {
	if d.pusher == nil || d.pool == nil {
		return
	}
	payload := push.Payload{
		Title: actor.Name(),
		Body:  n.Message,
		URL:   targetURL(n, actor),
	}
	recipient := n.RecipientId
	id := n.Id

	ok := d.pool.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()
		res := d.pusher.Deliver(ctx, recipient, payload)
		d.log.Debug().Str("notification", id.String()).Int("sent", res.Sent).Int("failed", res.Failed).Msg("Pushed notification")
	})
	if !ok {
		d.log.Warn().Str("notification", id.String()).Msg("Push skipped, queue full")
	}
}

// targetURL is where a click on the push opens.
func targetURL(n *domain.Notification, actor domain.Profile) string {
	switch n.Type {
	case domain.NotificationLike, domain.NotificationComment, domain.NotificationMention:
		if n.PostId != nil {
			return "/notes/" + n.PostId.String()
		}
	case domain.NotificationFollow:
		return "/u/" + actor.Username
	}
	return "/notifications"
}

func defaultMessage(name string, typ domain.NotificationType) string {
	switch typ {
	case domain.NotificationLike:
		return fmt.Sprintf("%s liked your post", name)
	case domain.NotificationComment:
		return fmt.Sprintf("%s commented on your post", name)
	case domain.NotificationFollow:
		return fmt.Sprintf("%s started following you", name)
	case domain.NotificationMention:
		return fmt.Sprintf("%s mentioned you", name)
	case domain.NotificationShare:
		return fmt.Sprintf("%s shared your post", name)
	default:
		return fmt.Sprintf("%s interacted with you", name)
	}
}

// List returns a page of the recipient's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, recipientId uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	limit, offset = clampPage(limit, offset)
	return d.store.ReadNotifications(ctx, recipientId, limit, offset)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, recipientId uuid.UUID) (int, error) {
	return d.store.CountUnreadNotifications(ctx, recipientId)
}

func (d *Dispatcher) Total(ctx context.Context, recipientId uuid.UUID) (int, error) {
	return d.store.CountNotifications(ctx, recipientId)
}

// MarkRead marks one of the recipient's notifications read. Notifications
// of other actors are reported as domain.ErrNotFound.
func (d *Dispatcher) MarkRead(ctx context.Context, recipientId, id uuid.UUID) error {
	return d.store.MarkNotificationRead(ctx, recipientId, id)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientId uuid.UUID) (int64, error) {
	return d.store.MarkAllNotificationsRead(ctx, recipientId)
}

func clampPage(limit, offset int) (int, int) {
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
