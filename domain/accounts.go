package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyPair is the RSA key pair an actor signs federation requests with.
type KeyPair struct {
	PublicPem  string `db:"web_public_key" json:"publicKeyPem"`
	PrivatePem string `db:"web_private_key" json:"-"`
}

// Actor is a local federated identity.
type Actor struct {
	Id          uuid.UUID `db:"id"`
	Username    string    `db:"username"`
	DisplayName string    `db:"display_name"`
	Summary     string    `db:"summary"`
	AvatarURL   string    `db:"avatar_url"`
	KeyPair
	CreatedAt time.Time `db:"created_at"`
}

// Name returns the display name, falling back to the handle.
func (acc *Actor) Name() string {
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	return acc.Username
}

func (acc *Actor) ToString() string {
	return fmt.Sprintf("Id: %s\nUsername: %s\nDisplayName: %s\nSummary: %s\nAvatar: %s\nCreatedAt: %s",
		acc.Id, acc.Username, acc.DisplayName, acc.Summary, acc.AvatarURL, acc.CreatedAt.Format(time.RFC3339))
}

// Profile is the minimal view of any actor, local or remote, that
// notifications need to render a title and a profile link.
type Profile struct {
	Id          uuid.UUID
	Username    string
	DisplayName string
	Local       bool
}

// Name returns the display name, falling back to the handle.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
