package db

import (
	"context"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertFollow        = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowColumns = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows`
	sqlSelectFollowById    = sqlSelectFollowColumns + ` WHERE id = ?`
	sqlSelectFollowByURI   = sqlSelectFollowColumns + ` WHERE uri = ?`
	sqlSelectFollowByPair  = sqlSelectFollowColumns + ` WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowers     = sqlSelectFollowColumns + ` WHERE target_account_id = ? AND accepted = TRUE ORDER BY created_at ASC`
	sqlSelectFollowing     = sqlSelectFollowColumns + ` WHERE account_id = ? AND accepted = TRUE ORDER BY created_at ASC`
	sqlAcceptFollow        = `UPDATE follows SET accepted = TRUE WHERE id = ?`
	sqlDeleteFollowByPair  = `DELETE FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlDeleteFollowsOf     = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	sqlCountFollowers      = `SELECT COUNT(*) FROM follows WHERE target_account_id = ? AND accepted = TRUE`
	sqlCountFollowing      = `SELECT COUNT(*) FROM follows WHERE account_id = ? AND accepted = TRUE`
)

// CreateFollow inserts a pending or accepted follow. An existing row for
// the same ordered pair yields domain.ErrDuplicateFollow.
func (db *DB) CreateFollow(ctx context.Context, f *domain.Follow) error {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlInsertFollow, f.Id, f.AccountId, f.TargetAccountId, f.URI, f.Accepted, f.CreatedAt.UTC())
	return conflict(err, domain.ErrDuplicateFollow)
}

func (db *DB) ReadFollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error) {
	var f domain.Follow
	if err := db.get(ctx, &f, sqlSelectFollowById, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// ReadFollowByURI finds the follow created by the given Follow activity id.
func (db *DB) ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error) {
	var f domain.Follow
	if err := db.get(ctx, &f, sqlSelectFollowByURI, uri); err != nil {
		return nil, err
	}
	return &f, nil
}

func (db *DB) ReadFollowByAccountIds(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error) {
	var f domain.Follow
	if err := db.get(ctx, &f, sqlSelectFollowByPair, followerId, targetId); err != nil {
		return nil, err
	}
	return &f, nil
}

// AcceptFollow marks a follow accepted. Accepting an accepted follow
// succeeds; a missing row yields domain.ErrNotFound.
func (db *DB) AcceptFollow(ctx context.Context, id uuid.UUID) error {
	return notFoundIfNone(db.exec(ctx, sqlAcceptFollow, id))
}

// DeleteFollow removes the follow for the ordered pair. Absence is not an error.
func (db *DB) DeleteFollow(ctx context.Context, followerId, targetId uuid.UUID) error {
	_, err := db.exec(ctx, sqlDeleteFollowByPair, followerId, targetId)
	return err
}

// DeleteFollowsOf removes every follow the actor takes part in.
func (db *DB) DeleteFollowsOf(ctx context.Context, actorId uuid.UUID) (int64, error) {
	return db.exec(ctx, sqlDeleteFollowsOf, actorId, actorId)
}

// ReadFollowers returns the accepted follows targeting the actor.
func (db *DB) ReadFollowers(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error) {
	var follows []domain.Follow
	if err := db.selectAll(ctx, &follows, sqlSelectFollowers, actorId); err != nil {
		return nil, err
	}
	return follows, nil
}

// ReadFollowing returns the accepted follows the actor initiated.
func (db *DB) ReadFollowing(ctx context.Context, actorId uuid.UUID) ([]domain.Follow, error) {
	var follows []domain.Follow
	if err := db.selectAll(ctx, &follows, sqlSelectFollowing, actorId); err != nil {
		return nil, err
	}
	return follows, nil
}

func (db *DB) CountFollowers(ctx context.Context, actorId uuid.UUID) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountFollowers, actorId)
	return n, err
}

func (db *DB) CountFollowing(ctx context.Context, actorId uuid.UUID) (int, error) {
	var n int
	err := db.get(ctx, &n, sqlCountFollowing, actorId)
	return n, err
}
