package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mentioner notifies local actors mentioned in a locally published note.
type Mentioner interface {
	NotifyMentions(ctx context.Context, authorId uuid.UUID, authorHandle string, postId uuid.UUID, content string) int
}

// Outbox builds, logs and queues activities local actors send.
type Outbox struct {
	baseURL    string
	follows    *Follows
	activities *ActivityLog
	queue      Queue
	resolver   *Resolver
	mentioner  Mentioner
	log        zerolog.Logger
}

func NewOutbox(baseURL string, follows *Follows, activities *ActivityLog, queue Queue, resolver *Resolver, mentioner Mentioner, log zerolog.Logger) *Outbox {
	return &Outbox{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		follows:    follows,
		activities: activities,
		queue:      queue,
		resolver:   resolver,
		mentioner:  mentioner,
		log:        log.With().Str("component", "outbox").Logger(),
	}
}

// Follow asks a remote actor to accept local as a follower. The follow
// stays pending until the remote's Accept arrives.
func (o *Outbox) Follow(ctx context.Context, local *domain.Actor, remoteActorURL string) (*domain.Follow, error) {
	remote, err := o.resolver.GetOrFetchActor(ctx, remoteActorURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", remoteActorURL, err)
	}

	actorURL := ActorURLs(o.baseURL, local.Username).ID
	follow := NewFollow(NewActivityID(o.baseURL), actorURL, remote.ActorURI)

	record, err := o.follows.RequestFollow(ctx, local.Id, remote.Id, follow.ID)
	if err != nil {
		return nil, err
	}
	if err := o.send(ctx, local, remote.InboxURI, follow); err != nil {
		return nil, err
	}

	o.log.Info().Str("from", local.Username).Str("to", remote.Handle()).Msg("Sent follow")
	return record, nil
}

// Unfollow ends local's follow of a remote actor with an Undo wrapping the
// original Follow. Not following is not an error.
func (o *Outbox) Unfollow(ctx context.Context, local *domain.Actor, remoteActorURL string) error {
	remote, err := o.resolver.GetOrFetchActor(ctx, remoteActorURL)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", remoteActorURL, err)
	}

	record, err := o.follows.FollowBetween(ctx, local.Id, remote.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	actorURL := ActorURLs(o.baseURL, local.Username).ID
	original := o.originalFollow(ctx, local, record, actorURL, remote.ActorURI)
	undo := NewUndo(NewActivityID(o.baseURL), actorURL, original)

	if err := o.follows.RemoveFollow(ctx, local.Id, remote.Id); err != nil {
		return err
	}
	if err := o.send(ctx, local, remote.InboxURI, undo); err != nil {
		return err
	}

	o.log.Info().Str("from", local.Username).Str("to", remote.Handle()).Msg("Sent unfollow")
	return nil
}

// originalFollow reads the logged Follow back so the Undo wraps exactly
// what was sent; a lost log entry is rebuilt from the follow row.
func (o *Outbox) originalFollow(ctx context.Context, local *domain.Actor, record *domain.Follow, actorURL, targetURL string) *Follow {
	item, err := o.activities.OutboundByURI(ctx, local.Id, record.URI)
	if err == nil {
		if act, err := ParseActivity([]byte(item.RawJSON)); err == nil {
			if f, ok := act.(*Follow); ok {
				return f
			}
		}
	}
	o.log.Debug().Str("uri", record.URI).Msg("Original follow not in outbox, rebuilding")
	f := NewFollow(record.URI, actorURL, targetURL)
	f.Published = record.CreatedAt.UTC().Format(time.RFC3339)
	return f
}

// PublishNote creates a public note, notifies mentioned local actors and
// queues the Create for every follower's inbox.
func (o *Outbox) PublishNote(ctx context.Context, local *domain.Actor, content, inReplyTo string) (*Create, error) {
	urls := ActorURLs(o.baseURL, local.Username)
	noteId := uuid.New()

	note := NewNote(NoteURL(o.baseURL, noteId), urls.ID, content, inReplyTo, nil, []string{urls.Followers})
	create := NewCreate(NewActivityID(o.baseURL), urls.ID, note, nil, []string{urls.Followers})

	raw, err := json.Marshal(create)
	if err != nil {
		return nil, err
	}
	if _, err := o.activities.AppendOutbound(ctx, local.Id, create.ID, create.Type, raw); err != nil {
		return nil, fmt.Errorf("failed to log Create: %w", err)
	}

	if o.mentioner != nil {
		o.mentioner.NotifyMentions(ctx, local.Id, local.Username, noteId, content)
	}

	for _, inbox := range o.followerInboxes(ctx, local) {
		if err := o.queue.Enqueue(ctx, local, inbox, create); err != nil {
			o.log.Error().Err(err).Str("inbox", inbox).Msg("Failed to queue Create")
		}
	}
	return create, nil
}

// followerInboxes returns the distinct inboxes of local's remote followers.
func (o *Outbox) followerInboxes(ctx context.Context, local *domain.Actor) []string {
	followers, err := o.follows.GetFollowers(ctx, local.Id)
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to read followers")
		return nil
	}

	seen := map[string]bool{}
	var inboxes []string
	for _, f := range followers {
		remote, err := o.resolver.ActorById(ctx, f.AccountId)
		if err != nil {
			// Local followers read the timeline directly.
			continue
		}
		if !seen[remote.InboxURI] {
			seen[remote.InboxURI] = true
			inboxes = append(inboxes, remote.InboxURI)
		}
	}
	return inboxes
}

func (o *Outbox) send(ctx context.Context, local *domain.Actor, inboxURI string, act Activity) error {
	return logAndQueue(ctx, o.activities, o.queue, local, inboxURI, act)
}

// logAndQueue records an outbound activity and queues its delivery.
func logAndQueue(ctx context.Context, activities *ActivityLog, queue Queue, local *domain.Actor, inboxURI string, act Activity) error {
	raw, err := json.Marshal(act)
	if err != nil {
		return err
	}
	if _, err := activities.AppendOutbound(ctx, local.Id, act.ActivityID(), act.ActivityType(), raw); err != nil {
		return fmt.Errorf("failed to log %s: %w", act.ActivityType(), err)
	}
	if err := queue.Enqueue(ctx, local, inboxURI, act); err != nil {
		return fmt.Errorf("failed to queue %s: %w", act.ActivityType(), err)
	}
	return nil
}
