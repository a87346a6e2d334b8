// Package push keeps Web Push subscriptions and fans notifications out to
// every active endpoint of an actor.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Store persists push subscriptions.
type Store interface {
	UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error
	ReadActivePushSubscriptions(ctx context.Context, actorId uuid.UUID) ([]domain.PushSubscription, error)
	DeactivatePushSubscription(ctx context.Context, id uuid.UUID) error
	DeactivatePushEndpoint(ctx context.Context, actorId uuid.UUID, endpoint string) error
}

// Result counts the outcome of one fan-out.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

var ErrInvalidSubscription = errors.New("invalid push subscription")

type Service struct {
	store  Store
	sender Sender
	log    zerolog.Logger
}

func NewService(store Store, sender Sender, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		sender: sender,
		log:    log.With().Str("component", "push").Logger(),
	}
}

// SaveSubscription registers an endpoint for the actor. Registering a known
// endpoint again refreshes its keys and reactivates it.
func (s *Service) SaveSubscription(ctx context.Context, actorId uuid.UUID, endpoint, p256dh, auth, userAgent string) (*domain.PushSubscription, error) {
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		return nil, fmt.Errorf("%w: endpoint must be an http(s) URL", ErrInvalidSubscription)
	}
	if p256dh == "" || auth == "" {
		return nil, fmt.Errorf("%w: missing keys", ErrInvalidSubscription)
	}

	now := time.Now()
	sub := &domain.PushSubscription{
		Id:        uuid.New(),
		ActorId:   actorId,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		UserAgent: userAgent,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertPushSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	s.log.Debug().Str("actor", actorId.String()).Msg("Saved push subscription")
	return sub, nil
}

func (s *Service) ListActiveSubscriptions(ctx context.Context, actorId uuid.UUID) ([]domain.PushSubscription, error) {
	return s.store.ReadActivePushSubscriptions(ctx, actorId)
}

// RemoveSubscription deactivates an endpoint. Unknown endpoints are ignored.
func (s *Service) RemoveSubscription(ctx context.Context, actorId uuid.UUID, endpoint string) error {
	return s.store.DeactivatePushEndpoint(ctx, actorId, endpoint)
}

// Deliver sends the payload to every active subscription of the actor
// concurrently and waits for all of them. A failing endpoint never affects
// its siblings; an endpoint reported gone is deactivated. Errors are
// logged and counted, never returned.
func (s *Service) Deliver(ctx context.Context, actorId uuid.UUID, payload Payload) Result {
	subs, err := s.store.ReadActivePushSubscriptions(ctx, actorId)
	if err != nil {
		s.log.Error().Err(err).Str("actor", actorId.String()).Msg("Failed to read push subscriptions")
		return Result{}
	}
	if len(subs) == 0 {
		return Result{}
	}

	message, err := payload.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode push payload")
		return Result{Failed: len(subs)}
	}

	var sent, failed atomic.Int32
	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			if err := s.sender.Send(ctx, sub, message); err != nil {
				failed.Add(1)
				s.handleFailure(ctx, sub, err)
				return nil
			}
			sent.Add(1)
			attemptsTotal.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
	s.log.Debug().Str("actor", actorId.String()).Int("sent", res.Sent).Int("failed", res.Failed).Msg("Push delivered")
	return res
}

func (s *Service) handleFailure(ctx context.Context, sub domain.PushSubscription, cause error) {
	if !errors.Is(cause, ErrGone) {
		attemptsTotal.WithLabelValues("failed").Inc()
		s.log.Warn().Err(cause).Str("subscription", sub.Id.String()).Msg("Push delivery failed")
		return
	}

	attemptsTotal.WithLabelValues("gone").Inc()
	if err := s.store.DeactivatePushSubscription(ctx, sub.Id); err != nil {
		s.log.Error().Err(err).Str("subscription", sub.Id.String()).Msg("Failed to deactivate push subscription")
		return
	}
	deactivatedTotal.Inc()
	s.log.Info().Str("subscription", sub.Id.String()).Msg("Deactivated gone push subscription")
}
