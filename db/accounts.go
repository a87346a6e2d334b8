package db

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, web_public_key, web_private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountColumns = `SELECT id, username, display_name, summary, avatar_url, web_public_key, web_private_key, created_at FROM accounts`
	sqlSelectAccountById    = sqlSelectAccountColumns + ` WHERE id = ?`
	sqlSelectAccountByName  = sqlSelectAccountColumns + ` WHERE username = ?`
	sqlUpdateAccountProfile = `UPDATE accounts SET display_name = ?, summary = ?, avatar_url = ? WHERE id = ?`

	sqlUpsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_pem, avatar_url, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (actor_uri) DO UPDATE SET
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			outbox_uri = excluded.outbox_uri,
			public_key_pem = excluded.public_key_pem,
			avatar_url = excluded.avatar_url,
			last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteColumns    = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts`
	sqlSelectRemoteByURI      = sqlSelectRemoteColumns + ` WHERE actor_uri = ?`
	sqlSelectRemoteById       = sqlSelectRemoteColumns + ` WHERE id = ?`
	sqlDeleteRemoteAccountURI = `DELETE FROM remote_accounts WHERE actor_uri = ?`
)

// CreateActor inserts a local actor together with its key pair.
func (db *DB) CreateActor(ctx context.Context, acc *domain.Actor) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlInsertAccount,
		acc.Id, acc.Username, acc.DisplayName, acc.Summary, acc.AvatarURL,
		acc.PublicPem, acc.PrivatePem, acc.CreatedAt.UTC())
	return conflict(err, domain.ErrDuplicateHandle)
}

// ReadActorById returns a local actor, including its private key.
func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	var acc domain.Actor
	if err := db.get(ctx, &acc, sqlSelectAccountById, id); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ReadActorByUsername returns a local actor by handle.
func (db *DB) ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	var acc domain.Actor
	if err := db.get(ctx, &acc, sqlSelectAccountByName, username); err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpdateActorProfile changes the mutable profile fields. The handle and
// the key pair never change.
func (db *DB) UpdateActorProfile(ctx context.Context, id uuid.UUID, displayName, summary, avatarURL string) error {
	return notFoundIfNone(db.exec(ctx, sqlUpdateAccountProfile, displayName, summary, avatarURL, id))
}

// UpsertRemoteAccount stores a fetched remote actor and returns the
// persisted row. An already known actor keeps its id.
func (db *DB) UpsertRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) (*domain.RemoteAccount, error) {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.LastFetchedAt.IsZero() {
		acc.LastFetchedAt = time.Now()
	}
	_, err := db.exec(ctx, sqlUpsertRemoteAccount,
		acc.Id, acc.Username, acc.Domain, acc.ActorURI, acc.DisplayName, acc.Summary,
		acc.InboxURI, acc.OutboxURI, acc.PublicKeyPem, acc.AvatarURL, acc.LastFetchedAt.UTC())
	if err != nil {
		return nil, err
	}
	return db.ReadRemoteAccountByURI(ctx, acc.ActorURI)
}

func (db *DB) ReadRemoteAccountByURI(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	var acc domain.RemoteAccount
	if err := db.get(ctx, &acc, sqlSelectRemoteByURI, actorURI); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (db *DB) ReadRemoteAccountById(ctx context.Context, id uuid.UUID) (*domain.RemoteAccount, error) {
	var acc domain.RemoteAccount
	if err := db.get(ctx, &acc, sqlSelectRemoteById, id); err != nil {
		return nil, err
	}
	return &acc, nil
}

// DeleteRemoteAccount forgets a remote actor. Absence is not an error.
func (db *DB) DeleteRemoteAccount(ctx context.Context, actorURI string) error {
	_, err := db.exec(ctx, sqlDeleteRemoteAccountURI, actorURI)
	return err
}

// ReadProfile resolves an actor id, local or remote, to a display profile.
func (db *DB) ReadProfile(ctx context.Context, id uuid.UUID) (domain.Profile, error) {
	acc, err := db.ReadActorById(ctx, id)
	if err == nil {
		return domain.Profile{Id: acc.Id, Username: acc.Username, DisplayName: acc.DisplayName, Local: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Profile{}, err
	}

	remote, err := db.ReadRemoteAccountById(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{Id: remote.Id, Username: remote.Handle(), DisplayName: remote.DisplayName}, nil
}
