package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestOutbox(env *federationEnv) *Outbox {
	return NewOutbox(testBaseURL, env.follows, env.activities, env.queue, env.resolver, env.notifier, zerolog.Nop())
}

func TestOutboxFollow(t *testing.T) {
	env := newFederationEnv(t)
	ctx := context.Background()
	outbox := newTestOutbox(env)

	record, err := outbox.Follow(ctx, env.local, env.remote.ActorURI)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if record.Accepted {
		t.Error("Outbound follow must stay pending until Accept")
	}

	if len(env.queue.items) != 1 {
		t.Fatalf("Expected one queued Follow, got %d", len(env.queue.items))
	}
	follow, ok := env.queue.items[0].activity.(*Follow)
	if !ok {
		t.Fatalf("Expected *Follow, got %T", env.queue.items[0].activity)
	}
	if follow.ID != record.URI || follow.Object != env.remote.ActorURI || follow.Actor != env.localURL() {
		t.Errorf("Unexpected Follow %+v for record %+v", follow, record)
	}
	if env.queue.items[0].inboxURI != env.remote.InboxURI {
		t.Errorf("Follow queued to %s", env.queue.items[0].inboxURI)
	}

	if _, err := outbox.Follow(ctx, env.local, env.remote.ActorURI); !errors.Is(err, domain.ErrDuplicateFollow) {
		t.Errorf("Expected ErrDuplicateFollow, got %v", err)
	}
}

func TestOutboxUnfollowWrapsOriginalFollow(t *testing.T) {
	env := newFederationEnv(t)
	ctx := context.Background()
	outbox := newTestOutbox(env)

	record, err := outbox.Follow(ctx, env.local, env.remote.ActorURI)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	sent := env.queue.items[0].activity.(*Follow)

	if err := outbox.Unfollow(ctx, env.local, env.remote.ActorURI); err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}

	if len(env.queue.items) != 2 {
		t.Fatalf("Expected Follow and Undo queued, got %d", len(env.queue.items))
	}
	undo, ok := env.queue.items[1].activity.(*Undo)
	if !ok {
		t.Fatalf("Expected *Undo, got %T", env.queue.items[1].activity)
	}
	inner, ok := undo.Object.Activity.(*Follow)
	if !ok {
		t.Fatalf("Expected Undo to embed a Follow, got %T", undo.Object.Activity)
	}
	if inner.ID != record.URI || inner.Published != sent.Published {
		t.Errorf("Undo does not wrap the original Follow: %+v vs %+v", inner, sent)
	}

	if _, err := env.follows.FollowBetween(ctx, env.local.Id, env.remote.Id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected follow removed, got %v", err)
	}
}

func TestOutboxUnfollowRebuildsMissingFollow(t *testing.T) {
	env := newFederationEnv(t)
	ctx := context.Background()
	outbox := newTestOutbox(env)

	// A follow that never went through the outbox log.
	_, record := env.pendingOutboundFollow(t)

	if err := outbox.Unfollow(ctx, env.local, env.remote.ActorURI); err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}
	undo := env.queue.items[0].activity.(*Undo)
	inner := undo.Object.Activity.(*Follow)
	if inner.ID != record.URI || inner.Object != env.remote.ActorURI {
		t.Errorf("Expected rebuilt Follow %s, got %+v", record.URI, inner)
	}
}

func TestOutboxUnfollowWhenNotFollowing(t *testing.T) {
	env := newFederationEnv(t)

	if err := newTestOutbox(env).Unfollow(context.Background(), env.local, env.remote.ActorURI); err != nil {
		t.Errorf("Unfollow without a follow should succeed, got %v", err)
	}
	if len(env.queue.items) != 0 {
		t.Error("Expected nothing queued")
	}
}

func TestOutboxPublishNote(t *testing.T) {
	env := newFederationEnv(t)
	ctx := context.Background()
	outbox := newTestOutbox(env)

	// bob and carol share an inbox, dave has his own; erin is local.
	carol := env.addRemote(t, "carol", env.remote.InboxURI)
	dave := env.addRemote(t, "dave", "https://remote.example/users/dave/inbox")
	erin := &domain.Actor{Id: uuid.New(), Username: "erin", KeyPair: domain.KeyPair{PublicPem: "pub", PrivatePem: "priv"}}
	if err := env.db.CreateActor(ctx, erin); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	for _, followerId := range []uuid.UUID{env.remote.Id, carol.Id, dave.Id, erin.Id} {
		f, err := env.follows.RequestFollow(ctx, followerId, env.local.Id, NewActivityID("https://remote.example"))
		if err != nil {
			t.Fatalf("RequestFollow failed: %v", err)
		}
		if err := env.follows.AcceptFollow(ctx, f.Id); err != nil {
			t.Fatalf("AcceptFollow failed: %v", err)
		}
	}
	// A pending follower does not receive posts.
	pending := env.addRemote(t, "frank", "https://remote.example/users/frank/inbox")
	if _, err := env.follows.RequestFollow(ctx, pending.Id, env.local.Id, NewActivityID("https://remote.example")); err != nil {
		t.Fatalf("RequestFollow failed: %v", err)
	}

	create, err := outbox.PublishNote(ctx, env.local, "hello @bob and @erin", "")
	if err != nil {
		t.Fatalf("PublishNote failed: %v", err)
	}

	urls := ActorURLs(testBaseURL, env.local.Username)
	if create.Object == nil || create.Object.AttributedTo != urls.ID || create.Object.Content != "hello @bob and @erin" {
		t.Errorf("Unexpected note %+v", create.Object)
	}
	if len(create.Cc) != 1 || create.Cc[0] != urls.Followers || create.To[0] != PublicCollection {
		t.Errorf("Unexpected addressing to=%v cc=%v", create.To, create.Cc)
	}
	noteId, ok := ParseLocalNoteURL(testBaseURL, create.Object.ID)
	if !ok {
		t.Fatalf("Note id %s is not a local note URL", create.Object.ID)
	}

	inboxes := map[string]int{}
	for _, item := range env.queue.items {
		inboxes[item.inboxURI]++
		if item.activity != Activity(create) {
			t.Errorf("Expected the Create to be queued, got %T", item.activity)
		}
	}
	if len(inboxes) != 2 || inboxes[env.remote.InboxURI] != 1 || inboxes[dave.InboxURI] != 1 {
		t.Errorf("Expected one delivery per distinct remote inbox, got %v", inboxes)
	}

	if len(env.notifier.mentions) != 1 {
		t.Fatalf("Expected mentions to be dispatched once, got %d", len(env.notifier.mentions))
	}
	call := env.notifier.mentions[0]
	if call.authorId != env.local.Id || call.handle != "alice" || *call.postId != noteId || call.content != "hello @bob and @erin" {
		t.Errorf("Unexpected mention call %+v", call)
	}

	logged, err := env.activities.OutboundByURI(ctx, env.local.Id, create.ID)
	if err != nil {
		t.Fatalf("Create not logged: %v", err)
	}
	var wire map[string]interface{}
	if err := json.Unmarshal([]byte(logged.RawJSON), &wire); err != nil || wire["type"] != TypeCreate {
		t.Errorf("Unexpected logged Create %s (%v)", logged.RawJSON, err)
	}
}
