package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/deemkeen/tusk/domain"
)

// ErrGone means the push service no longer knows the endpoint. The
// subscription will never work again.
var ErrGone = errors.New("push endpoint gone")

// Sender delivers one encrypted message to one subscription.
type Sender interface {
	Send(ctx context.Context, sub domain.PushSubscription, message []byte) error
}

// VAPID identifies this server to push services.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // mailto: address or https URL
	TTL        int
}

// WebPushSender sends RFC 8291 encrypted messages signed with VAPID.
type WebPushSender struct {
	vapid  VAPID
	client *http.Client
}

func NewWebPushSender(vapid VAPID, client *http.Client) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	if vapid.TTL <= 0 {
		vapid.TTL = 86400
	}
	return &WebPushSender{vapid: vapid, client: client}
}

func (s *WebPushSender) Send(ctx context.Context, sub domain.PushSubscription, message []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.vapid.Subscriber,
		TTL:             s.vapid.TTL,
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push service returned status: %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new base64url encoded key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
