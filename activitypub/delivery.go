package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxDeliveryAttempts = 10

var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// DeliveryStore holds the outbound delivery queue.
type DeliveryStore interface {
	EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetryAt time.Time) error
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
}

// Queue schedules signed delivery of an activity to a remote inbox.
type Queue interface {
	Enqueue(ctx context.Context, sender *domain.Actor, inboxURI string, activity Activity) error
}

// DeliveryWorker drains the delivery queue, signing each POST with the
// sending actor's key and rescheduling failures with backoff.
type DeliveryWorker struct {
	store     DeliveryStore
	client    *http.Client
	baseURL   string
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

func NewDeliveryWorker(store DeliveryStore, client *http.Client, baseURL string, interval time.Duration, batchSize int, log zerolog.Logger) *DeliveryWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &DeliveryWorker{
		store:     store,
		client:    client,
		baseURL:   baseURL,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With().Str("component", "delivery").Logger(),
		now:       time.Now,
	}
}

// Enqueue schedules the activity for immediate delivery.
func (w *DeliveryWorker) Enqueue(ctx context.Context, sender *domain.Actor, inboxURI string, activity Activity) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return w.store.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		ActorId:      sender.Id,
		InboxURI:     inboxURI,
		ActivityJSON: string(raw),
		NextRetryAt:  w.now(),
		CreatedAt:    w.now(),
	})
}

// Run processes the queue every interval until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting delivery worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue delivers one batch of due items and returns how many succeeded.
func (w *DeliveryWorker) ProcessQueue(ctx context.Context) int {
	items, err := w.store.ReadPendingDeliveries(ctx, w.now(), w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to read delivery queue")
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	w.log.Debug().Int("count", len(items)).Msg("Processing pending deliveries")

	delivered := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := w.deliver(ctx, &item); err != nil {
			w.reschedule(ctx, &item, err)
			continue
		}
		delivered++
		deliveriesTotal.WithLabelValues("delivered").Inc()
		w.log.Debug().Str("inbox", item.InboxURI).Msg("Delivered activity")
		if err := w.store.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Error().Err(err).Str("id", item.Id.String()).Msg("Failed to remove delivered item")
		}
	}
	return delivered
}

func (w *DeliveryWorker) reschedule(ctx context.Context, item *domain.DeliveryQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		deliveriesTotal.WithLabelValues("dropped").Inc()
		w.log.Warn().Err(cause).Str("inbox", item.InboxURI).Int("attempts", item.Attempts).Msg("Giving up on delivery")
		if err := w.store.DeleteDelivery(ctx, item.Id); err != nil {
			w.log.Error().Err(err).Str("id", item.Id.String()).Msg("Failed to remove dropped item")
		}
		return
	}

	wait := Backoff(item.Attempts)
	deliveriesTotal.WithLabelValues("retry").Inc()
	w.log.Info().Err(cause).Str("inbox", item.InboxURI).Int("attempt", item.Attempts).Dur("retry_in", wait).Msg("Delivery failed")
	if err := w.store.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, w.now().Add(wait)); err != nil {
		w.log.Error().Err(err).Str("id", item.Id.String()).Msg("Failed to reschedule delivery")
	}
}

// Backoff is the wait before the next attempt after the given number of
// failed ones: 1m, 5m, 15m, 1h, 4h, then daily.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	idx := min(attempts-1, len(backoffMinutes)-1)
	return time.Duration(backoffMinutes[idx]) * time.Minute
}

// deliver attempts to deliver a single activity to an inbox
func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	sender, err := w.store.ReadActorById(ctx, item.ActorId)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	privateKey, err := ParsePrivateKey(sender.PrivatePem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())

	keyID := ActorURLs(w.baseURL, sender.Username).KeyID
	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
