package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrActorMismatch = errors.New("activity actor does not match signing actor")

// An inbox row that still fails after this long is given up on.
const reprocessWindow = 24 * time.Hour

// LocalActors looks up the owner of an inbox row.
type LocalActors interface {
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
}

// Notifier turns inbound interactions into notifications.
type Notifier interface {
	NotifyUnlessSelf(ctx context.Context, ev notify.Event) *domain.Notification
	NotifyHandles(ctx context.Context, authorId uuid.UUID, authorHandle string, postId *uuid.UUID, handles []string) int
}

// InboxProcessor applies the effects of activities delivered to a local
// actor's inbox.
type InboxProcessor struct {
	baseURL    string
	actors     LocalActors
	follows    *Follows
	activities *ActivityLog
	queue      Queue
	notifier   Notifier
	resolver   *Resolver
	log        zerolog.Logger
}

func NewInboxProcessor(baseURL string, actors LocalActors, follows *Follows, activities *ActivityLog, queue Queue, notifier Notifier, resolver *Resolver, log zerolog.Logger) *InboxProcessor {
	return &InboxProcessor{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		actors:     actors,
		follows:    follows,
		activities: activities,
		queue:      queue,
		notifier:   notifier,
		resolver:   resolver,
		log:        log.With().Str("component", "inbox").Logger(),
	}
}

// Process records the activity in local's inbox and applies it. The inbox
// row is marked processed only after its effects were applied; a replay of
// a processed activity is a no-op, a replay of one that failed applies it
// again.
func (p *InboxProcessor) Process(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, raw []byte) error {
	act, err := ParseActivity(raw)
	if err != nil {
		return err
	}
	if act.ActorURL() != remote.ActorURI {
		return fmt.Errorf("%w: %s signed by %s", ErrActorMismatch, act.ActorURL(), remote.ActorURI)
	}

	item, err := p.activities.AppendInbound(ctx, local.Id, act.ActivityID(), act.ActivityType(), raw)
	if errors.Is(err, domain.ErrDuplicateActivity) {
		item, err = p.activities.InboundByURI(ctx, local.Id, act.ActivityID())
		if err != nil {
			return fmt.Errorf("failed to read stored activity: %w", err)
		}
		if item.Processed {
			inboundActivities.WithLabelValues(act.ActivityType(), "duplicate").Inc()
			p.log.Debug().Str("id", act.ActivityID()).Msg("Duplicate activity ignored")
			return nil
		}
		p.log.Info().Str("id", act.ActivityID()).Msg("Retrying unprocessed activity")
	} else if err != nil {
		return fmt.Errorf("failed to store activity: %w", err)
	} else {
		p.log.Info().Str("type", act.ActivityType()).Str("from", remote.Handle()).Str("to", local.Username).Msg("Received activity")
	}

	return p.applyAndMark(ctx, local, remote, act, item)
}

func (p *InboxProcessor) applyAndMark(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, act Activity, item *domain.InboxItem) error {
	if err := p.apply(ctx, local, remote, act); err != nil {
		inboundActivities.WithLabelValues(act.ActivityType(), "failed").Inc()
		return fmt.Errorf("failed to process %s: %w", act.ActivityType(), err)
	}
	inboundActivities.WithLabelValues(act.ActivityType(), "processed").Inc()
	return p.activities.MarkProcessed(ctx, item.Id)
}

// Reprocess applies up to limit inbox rows left unprocessed by an earlier
// failure and returns how many succeeded. Rows older than reprocessWindow
// are marked processed and dropped.
func (p *InboxProcessor) Reprocess(ctx context.Context, limit int) int {
	items, err := p.activities.Unprocessed(ctx, limit)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to read unprocessed activities")
		return 0
	}

	done := 0
	for i := range items {
		item := &items[i]
		if time.Since(item.CreatedAt) > reprocessWindow {
			p.log.Warn().Str("id", item.ActivityURI).Msg("Giving up on activity")
			inboundActivities.WithLabelValues(item.ActivityType, "dropped").Inc()
			if err := p.activities.MarkProcessed(ctx, item.Id); err != nil {
				p.log.Error().Err(err).Str("id", item.ActivityURI).Msg("Failed to drop activity")
			}
			continue
		}
		if err := p.reprocess(ctx, item); err != nil {
			p.log.Warn().Err(err).Str("id", item.ActivityURI).Msg("Activity still failing")
			continue
		}
		done++
	}
	return done
}

func (p *InboxProcessor) reprocess(ctx context.Context, item *domain.InboxItem) error {
	act, err := ParseActivity([]byte(item.RawJSON))
	if err != nil {
		return err
	}
	local, err := p.actors.ReadActorById(ctx, item.ActorId)
	if err != nil {
		return fmt.Errorf("failed to read inbox owner: %w", err)
	}
	if p.resolver == nil {
		return fmt.Errorf("no resolver for %s", act.ActorURL())
	}
	remote, err := p.resolver.GetOrFetchActor(ctx, act.ActorURL())
	if err != nil {
		return fmt.Errorf("failed to resolve sender: %w", err)
	}
	return p.applyAndMark(ctx, local, remote, act, item)
}

// RunReprocessor calls Reprocess every interval until ctx is done.
func (p *InboxProcessor) RunReprocessor(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := p.Reprocess(ctx, batchSize); n > 0 {
				p.log.Info().Int("count", n).Msg("Reprocessed activities")
			}
		}
	}
}

func (p *InboxProcessor) apply(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, act Activity) error {
	switch a := act.(type) {
	case *Follow:
		return p.handleFollow(ctx, local, remote, a)
	case *Accept:
		return p.handleAccept(ctx, local, remote, a)
	case *Reject:
		return p.handleReject(ctx, local, remote, a)
	case *Undo:
		return p.handleUndo(ctx, local, remote, a)
	case *Like:
		p.notifyInteraction(ctx, local, remote, domain.NotificationLike, a.Object)
		return nil
	case *Announce:
		p.notifyInteraction(ctx, local, remote, domain.NotificationShare, a.Object)
		return nil
	case *Create:
		p.handleCreate(ctx, local, remote, a)
		return nil
	case *Delete:
		return p.handleDelete(ctx, remote, a)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedActivity, act)
	}
}

// handleFollow auto-accepts, replying with an Accept wrapping the Follow.
func (p *InboxProcessor) handleFollow(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, follow *Follow) error {
	if follow.Object != ActorURLs(p.baseURL, local.Username).ID {
		p.log.Warn().Str("object", follow.Object).Str("inbox", local.Username).Msg("Follow for another actor ignored")
		return nil
	}

	record, err := p.follows.RequestFollow(ctx, remote.Id, local.Id, follow.ID)
	isNew := err == nil
	if errors.Is(err, domain.ErrDuplicateFollow) {
		// The remote may not have seen our Accept; send it again.
		record, err = p.follows.FollowBetween(ctx, remote.Id, local.Id)
	}
	if err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	if err := p.follows.AcceptFollow(ctx, record.Id); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}

	// Notified before queueing: a retry sees an existing follow and skips this.
	if isNew {
		p.notifier.NotifyUnlessSelf(ctx, notify.Event{
			RecipientId: local.Id,
			ActorId:     remote.Id,
			Type:        domain.NotificationFollow,
		})
	}

	actorURL := ActorURLs(p.baseURL, local.Username).ID
	accept := NewAccept(NewActivityID(p.baseURL), actorURL, follow)
	if err := logAndQueue(ctx, p.activities, p.queue, local, remote.InboxURI, accept); err != nil {
		return err
	}
	p.log.Info().Str("from", remote.Handle()).Msg("Accepted follow")
	return nil
}

// correlate finds the local follow an Accept, Reject or Undo refers to.
func (p *InboxProcessor) correlate(ctx context.Context, object ObjectRef) (*domain.Follow, error) {
	uri := object.ID
	if f := object.follow(); f != nil {
		uri = f.ID
	}
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return p.follows.FollowByActivity(ctx, uri)
}

func (p *InboxProcessor) handleAccept(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, accept *Accept) error {
	f, err := p.correlate(ctx, accept.Object)
	if errors.Is(err, domain.ErrNotFound) {
		p.log.Debug().Str("id", accept.ID).Msg("Accept for unknown follow ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if f.AccountId != local.Id || f.TargetAccountId != remote.Id {
		p.log.Warn().Str("id", accept.ID).Msg("Accept from an actor that was not followed")
		return nil
	}
	return p.follows.AcceptFollow(ctx, f.Id)
}

func (p *InboxProcessor) handleReject(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, reject *Reject) error {
	f, err := p.correlate(ctx, reject.Object)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.AccountId != local.Id || f.TargetAccountId != remote.Id {
		return nil
	}
	return p.follows.RemoveFollow(ctx, local.Id, remote.Id)
}

func (p *InboxProcessor) handleUndo(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, undo *Undo) error {
	switch inner := undo.Object.Activity.(type) {
	case *Follow:
		if err := p.follows.RemoveFollow(ctx, remote.Id, local.Id); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
		p.log.Info().Str("from", remote.Handle()).Msg("Removed follow")
		return nil
	case nil:
		// Only the id was sent; it may still name the follow.
		f, err := p.correlate(ctx, undo.Object)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.AccountId == remote.Id && f.TargetAccountId == local.Id {
			return p.follows.RemoveFollow(ctx, remote.Id, local.Id)
		}
		return nil
	default:
		p.log.Debug().Str("type", inner.ActivityType()).Msg("Undo has no local effect")
		return nil
	}
}

// notifyInteraction notifies local about a Like or Announce of one of its notes.
func (p *InboxProcessor) notifyInteraction(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, typ domain.NotificationType, objectURL string) {
	postId, ok := p.localNoteId(objectURL)
	if !ok {
		p.log.Debug().Str("object", objectURL).Msg("Interaction with a non-local object ignored")
		return
	}
	p.notifier.NotifyUnlessSelf(ctx, notify.Event{
		RecipientId: local.Id,
		ActorId:     remote.Id,
		Type:        typ,
		PostId:      &postId,
	})
}

func (p *InboxProcessor) handleCreate(ctx context.Context, local *domain.Actor, remote *domain.RemoteAccount, create *Create) {
	note := create.Object
	if note == nil {
		return
	}

	if postId, ok := p.localNoteId(note.InReplyTo); ok {
		p.notifier.NotifyUnlessSelf(ctx, notify.Event{
			RecipientId: local.Id,
			ActorId:     remote.Id,
			Type:        domain.NotificationComment,
			PostId:      &postId,
			Message:     fmt.Sprintf("%s replied to your post", remoteName(remote)),
		})
	}

	if handles := p.mentionedHandles(note); len(handles) > 0 {
		p.notifier.NotifyHandles(ctx, remote.Id, remote.Handle(), nil, handles)
	}
}

func (p *InboxProcessor) handleDelete(ctx context.Context, remote *domain.RemoteAccount, del *Delete) error {
	if del.Object.ID != remote.ActorURI {
		// Deleting a remote note has no local effect.
		return nil
	}
	if err := p.follows.RemoveActor(ctx, remote.Id); err != nil {
		return err
	}
	if p.resolver != nil {
		return p.resolver.Forget(ctx, remote.ActorURI)
	}
	return nil
}

// localNoteId parses <base>/notes/<uuid>.
func (p *InboxProcessor) localNoteId(objectURL string) (uuid.UUID, bool) {
	return ParseLocalNoteURL(p.baseURL, objectURL)
}

// ParseLocalNoteURL extracts the note id from a local note URL.
func ParseLocalNoteURL(baseURL, objectURL string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(objectURL, strings.TrimSuffix(baseURL, "/")+"/notes/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// mentionedHandles returns the local handles a note's Mention tags point at.
func (p *InboxProcessor) mentionedHandles(note *Note) []string {
	prefix := p.baseURL + "/users/"
	var handles []string
	seen := map[string]bool{}
	for _, tag := range note.Tag {
		if tag.Type != TypeMention {
			continue
		}
		handle, ok := strings.CutPrefix(tag.Href, prefix)
		if !ok || handle == "" || strings.Contains(handle, "/") || seen[handle] {
			continue
		}
		seen[handle] = true
		handles = append(handles, handle)
	}
	return handles
}

func remoteName(remote *domain.RemoteAccount) string {
	if remote.DisplayName != "" {
		return remote.DisplayName
	}
	return remote.Handle()
}
