package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	actorCacheSize = 1024
	actorMaxAge    = 24 * time.Hour
	maxActorBytes  = 1 << 20
)

// RemoteStore caches remote actors.
type RemoteStore interface {
	UpsertRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) (*domain.RemoteAccount, error)
	ReadRemoteAccountByURI(ctx context.Context, actorURI string) (*domain.RemoteAccount, error)
	ReadRemoteAccountById(ctx context.Context, id uuid.UUID) (*domain.RemoteAccount, error)
	DeleteRemoteAccount(ctx context.Context, actorURI string) error
}

// Resolver returns remote actors from memory, then the database, and
// fetches them when unknown or stale.
type Resolver struct {
	store  RemoteStore
	client *http.Client
	cache  *expirable.LRU[string, *domain.RemoteAccount]
	log    zerolog.Logger
	now    func() time.Time
}

func NewResolver(store RemoteStore, client *http.Client, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		client: client,
		cache:  expirable.NewLRU[string, *domain.RemoteAccount](actorCacheSize, nil, actorMaxAge),
		log:    log.With().Str("component", "resolver").Logger(),
		now:    time.Now,
	}
}

// GetOrFetchActor returns actor from cache or fetches if not cached/stale
func (r *Resolver) GetOrFetchActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	if cached, ok := r.cache.Get(actorURI); ok {
		return cached, nil
	}

	stored, err := r.store.ReadRemoteAccountByURI(ctx, actorURI)
	if err == nil && r.now().Sub(stored.LastFetchedAt) < actorMaxAge {
		r.cache.Add(actorURI, stored)
		return stored, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	fetched, fetchErr := r.FetchRemoteActor(ctx, actorURI)
	if fetchErr != nil && stored != nil {
		// A stale copy beats no copy when the remote is unreachable.
		r.log.Warn().Err(fetchErr).Str("actor", actorURI).Msg("Refresh failed, using stale actor")
		return stored, nil
	}
	return fetched, fetchErr
}

// Refresh refetches an actor regardless of cache age, e.g. after a key rotation.
func (r *Resolver) Refresh(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	r.cache.Remove(actorURI)
	return r.FetchRemoteActor(ctx, actorURI)
}

// ActorById looks up a known remote actor.
func (r *Resolver) ActorById(ctx context.Context, id uuid.UUID) (*domain.RemoteAccount, error) {
	return r.store.ReadRemoteAccountById(ctx, id)
}

// Forget drops a deleted actor from both caches.
func (r *Resolver) Forget(ctx context.Context, actorURI string) error {
	r.cache.Remove(actorURI)
	return r.store.DeleteRemoteAccount(ctx, actorURI)
}

// FetchRemoteActor fetches an actor from a remote server and stores it
func (r *Resolver) FetchRemoteActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxActorBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	remote, err := DecodeRemoteActor(body)
	if err != nil {
		return nil, err
	}
	remote.LastFetchedAt = r.now()

	stored, err := r.store.UpsertRemoteAccount(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}
	r.cache.Add(actorURI, stored)

	r.log.Debug().Str("actor", stored.ActorURI).Msg("Fetched remote actor")
	return stored, nil
}

// remoteActorDocument accepts the looser shapes remote servers send.
type remoteActorDocument struct {
	ActorDocument
	Context interface{}     `json:"@context"`
	Icon    json.RawMessage `json:"icon"`
}

// DecodeRemoteActor validates a fetched actor document.
func DecodeRemoteActor(body []byte) (*domain.RemoteAccount, error) {
	var actor remoteActorDocument
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	username := actor.PreferredUsername
	if username == "" {
		username = extractUsername(actor.ID)
	}

	return &domain.RemoteAccount{
		Username:     username,
		Domain:       domainName,
		ActorURI:     actor.ID,
		DisplayName:  actor.Name,
		Summary:      actor.Summary,
		InboxURI:     actor.Inbox,
		OutboxURI:    actor.Outbox,
		PublicKeyPem: actor.PublicKey.PublicKeyPem,
		AvatarURL:    iconURL(actor.Icon),
	}, nil
}

// iconURL accepts an Image object, an array of them, or a bare URL.
func iconURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single Image
	if err := json.Unmarshal(raw, &single); err == nil && single.URL != "" {
		return single.URL
	}
	var many []Image
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0].URL
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}
	return ""
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %s", actorURI)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimSuffix(uri, "/"), "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}
