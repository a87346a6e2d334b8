package activitypub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultKeyBits = 2048

// URLs are the addresses derived from a handle and the base URL.
type URLs struct {
	ID          string
	Inbox       string
	Outbox      string
	Followers   string
	Following   string
	SharedInbox string
	KeyID       string
}

func ActorURLs(baseURL, handle string) URLs {
	base := strings.TrimSuffix(baseURL, "/")
	prefix := fmt.Sprintf("%s/users/%s", base, handle)
	return URLs{
		ID:          prefix,
		Inbox:       prefix + "/inbox",
		Outbox:      prefix + "/outbox",
		Followers:   prefix + "/followers",
		Following:   prefix + "/following",
		SharedInbox: base + "/inbox",
		KeyID:       prefix + "#main-key",
	}
}

// NoteURL is the id of a local note.
func NoteURL(baseURL string, noteId uuid.UUID) string {
	return fmt.Sprintf("%s/notes/%s", strings.TrimSuffix(baseURL, "/"), noteId)
}

// ActorDocument is the public Person document of an actor. It has no
// field that can carry private key material.
type ActorDocument struct {
	Context                   []string   `json:"@context"`
	ID                        string     `json:"id"`
	Type                      string     `json:"type"`
	PreferredUsername         string     `json:"preferredUsername"`
	Name                      string     `json:"name"`
	Summary                   string     `json:"summary"`
	Icon                      *Image     `json:"icon,omitempty"`
	Inbox                     string     `json:"inbox"`
	Outbox                    string     `json:"outbox"`
	Followers                 string     `json:"followers"`
	Following                 string     `json:"following"`
	URL                       string     `json:"url"`
	ManuallyApprovesFollowers bool       `json:"manuallyApprovesFollowers"`
	Discoverable              bool       `json:"discoverable"`
	Endpoints                 *Endpoints `json:"endpoints,omitempty"`
	PublicKey                 PublicKey  `json:"publicKey"`
}

type Image struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// BuildActorDocument renders the actor as a Person.
func BuildActorDocument(baseURL string, acc *domain.Actor) *ActorDocument {
	urls := ActorURLs(baseURL, acc.Username)
	doc := &ActorDocument{
		Context:           []string{ContextActivityStreams, ContextSecurity},
		ID:                urls.ID,
		Type:              TypePerson,
		PreferredUsername: acc.Username,
		Name:              acc.Name(),
		Summary:           acc.Summary,
		Inbox:             urls.Inbox,
		Outbox:            urls.Outbox,
		Followers:         urls.Followers,
		Following:         urls.Following,
		URL:               urls.ID,
		Discoverable:      true,
		Endpoints:         &Endpoints{SharedInbox: urls.SharedInbox},
		PublicKey: PublicKey{
			ID:           urls.KeyID,
			Owner:        urls.ID,
			PublicKeyPem: acc.PublicPem,
		},
	}
	if acc.AvatarURL != "" {
		doc.Icon = &Image{Type: "Image", MediaType: mediaTypeOf(acc.AvatarURL), URL: acc.AvatarURL}
	}
	return doc
}

func mediaTypeOf(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// GenerateIdentity creates an RSA key pair. The public half is PKIX
// "PUBLIC KEY" PEM, the private half PKCS#1 "RSA PRIVATE KEY" PEM.
func GenerateIdentity(bits int) (*domain.KeyPair, error) {
	if bits < DefaultKeyBits {
		return nil, fmt.Errorf("%w: %d bits is below the %d bit minimum", domain.ErrKeyGeneration, bits, DefaultKeyBits)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}

	return &domain.KeyPair{
		PublicPem: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})),
		PrivatePem: string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		})),
	}, nil
}

// ActorStore persists local actors.
type ActorStore interface {
	CreateActor(ctx context.Context, acc *domain.Actor) error
	ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error)
	UpdateActorProfile(ctx context.Context, id uuid.UUID, displayName, summary, avatarURL string) error
}

// Identities creates local actors with their signing keys.
type Identities struct {
	store   ActorStore
	keyBits int
	log     zerolog.Logger

	// keygen is swapped in tests
	keygen func(bits int) (*domain.KeyPair, error)
}

func NewIdentities(store ActorStore, keyBits int, log zerolog.Logger) *Identities {
	if keyBits < DefaultKeyBits {
		keyBits = DefaultKeyBits
	}
	return &Identities{
		store:   store,
		keyBits: keyBits,
		log:     log.With().Str("component", "identity").Logger(),
		keygen:  GenerateIdentity,
	}
}

// CreateActor generates the key pair first and only then inserts the
// actor with its keys, so no actor ever exists without one.
func (i *Identities) CreateActor(ctx context.Context, handle, displayName, summary string) (*domain.Actor, error) {
	handle = strings.TrimSpace(handle)
	if !validHandle(handle) {
		return nil, fmt.Errorf("invalid handle %q", handle)
	}

	keys, err := i.keygen(i.keyBits)
	if err != nil {
		i.log.Error().Err(err).Str("handle", handle).Msg("Key generation failed")
		return nil, err
	}

	acc := &domain.Actor{
		Id:          uuid.New(),
		Username:    handle,
		DisplayName: displayName,
		Summary:     summary,
		KeyPair:     *keys,
		CreatedAt:   time.Now(),
	}
	if err := i.store.CreateActor(ctx, acc); err != nil {
		return nil, err
	}

	i.log.Info().Str("handle", handle).Str("id", acc.Id.String()).Msg("Created actor")
	return acc, nil
}

// UpdateProfile replaces the display name, summary and avatar of a local
// actor. The handle and the key pair stay as they are.
func (i *Identities) UpdateProfile(ctx context.Context, handle, displayName, summary, avatarURL string) (*domain.Actor, error) {
	if avatarURL != "" && !strings.HasPrefix(avatarURL, "https://") && !strings.HasPrefix(avatarURL, "http://") {
		return nil, fmt.Errorf("avatar must be an http(s) URL: %q", avatarURL)
	}
	acc, err := i.store.ReadActorByUsername(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := i.store.UpdateActorProfile(ctx, acc.Id, displayName, summary, avatarURL); err != nil {
		return nil, err
	}
	acc.DisplayName, acc.Summary, acc.AvatarURL = displayName, summary, avatarURL

	i.log.Info().Str("handle", handle).Msg("Updated profile")
	return acc, nil
}

// validHandle accepts the characters mentions can address.
func validHandle(handle string) bool {
	if handle == "" || len(handle) > 64 {
		return false
	}
	for _, r := range handle {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
