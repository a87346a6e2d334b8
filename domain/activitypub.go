package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id            uuid.UUID `db:"id"`
	Username      string    `db:"username"`
	Domain        string    `db:"domain"`
	ActorURI      string    `db:"actor_uri"`
	DisplayName   string    `db:"display_name"`
	Summary       string    `db:"summary"`
	InboxURI      string    `db:"inbox_uri"`
	OutboxURI     string    `db:"outbox_uri"`
	PublicKeyPem  string    `db:"public_key_pem"`
	AvatarURL     string    `db:"avatar_url"`
	LastFetchedAt time.Time `db:"last_fetched_at"`
}

// Handle returns user@domain.
func (r *RemoteAccount) Handle() string {
	return r.Username + "@" + r.Domain
}

// Follow represents a follow relationship between an ordered pair of
// actors. A row is deleted, never reverted, when the follow ends.
type Follow struct {
	Id              uuid.UUID `db:"id"`
	AccountId       uuid.UUID `db:"account_id"`        // the follower, local or remote
	TargetAccountId uuid.UUID `db:"target_account_id"` // the followed actor, local or remote
	URI             string    `db:"uri"`               // originating Follow activity id
	Accepted        bool      `db:"accepted"`
	CreatedAt       time.Time `db:"created_at"`
}

// InboxItem is an activity received from the federation.
type InboxItem struct {
	Id           uuid.UUID `db:"id"`
	ActorId      uuid.UUID `db:"actor_id"`
	ActivityURI  string    `db:"activity_uri"`
	ActivityType string    `db:"activity_type"`
	RawJSON      string    `db:"raw_json"`
	Processed    bool      `db:"processed"`
	CreatedAt    time.Time `db:"created_at"`
}

// OutboxItem is an activity sent to the federation.
type OutboxItem struct {
	Id           uuid.UUID `db:"id"`
	ActorId      uuid.UUID `db:"actor_id"`
	ActivityURI  string    `db:"activity_uri"`
	ActivityType string    `db:"activity_type"`
	RawJSON      string    `db:"raw_json"`
	CreatedAt    time.Time `db:"created_at"`
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID `db:"id"`
	ActorId      uuid.UUID `db:"actor_id"` // local actor whose key signs the request
	InboxURI     string    `db:"inbox_uri"`
	ActivityJSON string    `db:"activity_json"`
	Attempts     int       `db:"attempts"`
	NextRetryAt  time.Time `db:"next_retry_at"`
	CreatedAt    time.Time `db:"created_at"`
}
