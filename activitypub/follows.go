package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FollowStore persists follow relationships.
type FollowStore interface {
	CreateFollow(ctx context.Context, f *domain.Follow) error
	ReadFollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error)
	ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error)
	ReadFollowByAccountIds(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error)
	AcceptFollow(ctx context.Context, id uuid.UUID) error
	DeleteFollow(ctx context.Context, followerId, targetId uuid.UUID) error
	DeleteFollowsOf(ctx context.Context, actorId uuid.UUID) (int64, error)
	ReadFollowers(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error)
	ReadFollowing(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error)
}

// Follows moves follow relationships through none -> pending -> accepted
// -> removed. A rejected follow is removed the same way as an unfollow.
type Follows struct {
	store FollowStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewFollows(store FollowStore, log zerolog.Logger) *Follows {
	return &Follows{
		store: store,
		log:   log.With().Str("component", "follows").Logger(),
		now:   time.Now,
	}
}

// RequestFollow records a pending follow. An existing row for the ordered
// pair yields domain.ErrDuplicateFollow.
func (f *Follows) RequestFollow(ctx context.Context, followerId, followingId uuid.UUID, activityURI string) (*domain.Follow, error) {
	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       followerId,
		TargetAccountId: followingId,
		URI:             activityURI,
		CreatedAt:       f.now(),
	}
	if err := f.store.CreateFollow(ctx, follow); err != nil {
		return nil, err
	}
	f.log.Debug().Str("follower", followerId.String()).Str("following", followingId.String()).Msg("Follow requested")
	return follow, nil
}

// AcceptFollow moves a pending follow to accepted. Accepting twice, or
// accepting a follow that was removed meanwhile, succeeds without effect.
func (f *Follows) AcceptFollow(ctx context.Context, followId uuid.UUID) error {
	err := f.store.AcceptFollow(ctx, followId)
	if errors.Is(err, domain.ErrNotFound) {
		f.log.Debug().Str("follow", followId.String()).Msg("Accept for unknown follow ignored")
		return nil
	}
	return err
}

// RemoveFollow ends a follow in any state. Absence is not an error.
func (f *Follows) RemoveFollow(ctx context.Context, followerId, followingId uuid.UUID) error {
	return f.store.DeleteFollow(ctx, followerId, followingId)
}

// RemoveActor drops every follow a deleted actor took part in.
func (f *Follows) RemoveActor(ctx context.Context, actorId uuid.UUID) error {
	n, err := f.store.DeleteFollowsOf(ctx, actorId)
	if err != nil {
		return err
	}
	f.log.Info().Str("actor", actorId.String()).Int64("removed", n).Msg("Removed follows of deleted actor")
	return nil
}

// GetFollowers lists accepted follows targeting the actor.
func (f *Follows) GetFollowers(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error) {
	return f.store.ReadFollowers(ctx, actorId)
}

// GetFollowing lists accepted follows the actor initiated.
func (f *Follows) GetFollowing(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error) {
	return f.store.ReadFollowing(ctx, actorId)
}

// FollowByActivity finds the follow created by a Follow activity id.
func (f *Follows) FollowByActivity(ctx context.Context, activityURI string) (*domain.Follow, error) {
	return f.store.ReadFollowByURI(ctx, activityURI)
}

// FollowBetween returns the follow of the ordered pair in any state.
func (f *Follows) FollowBetween(ctx context.Context, followerId, followingId uuid.UUID) (*domain.Follow, error) {
	return f.store.ReadFollowByAccountIds(ctx, followerId, followingId)
}

func (f *Follows) FollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error) {
	return f.store.ReadFollowById(ctx, id)
}
