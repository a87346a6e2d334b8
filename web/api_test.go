package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/notify"
	"github.com/google/uuid"
)

const subscriptionJSON = `{"endpoint":"https://push.example/send/abc","keys":{"p256dh":"BKey","auth":"secret"}}`

func TestAPIRequiresCaller(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	if w := env.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without caller, got %d", w.Code)
	}

	if w := env.asCaller(uuid.New(), http.MethodGet, "/api/notifications", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown caller, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set(CallerHeader, "not-a-uuid")
	if w := env.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for malformed caller, got %d", w.Code)
	}
}

func TestPushKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.asCaller(env.local.Id, http.MethodGet, "/api/push/key", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decodeJSON(t, w)["publicKey"] != "BTestVapidPublicKey" {
		t.Errorf("Unexpected key response %s", w.Body.String())
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.asCaller(env.local.Id, http.MethodPost, "/api/push/subscriptions", subscriptionJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	sub := decodeJSON(t, w)
	if sub["endpoint"] != "https://push.example/send/abc" || sub["active"] != true {
		t.Errorf("Unexpected subscription %v", sub)
	}

	active, err := env.push.ListActiveSubscriptions(ctx, env.local.Id)
	if err != nil {
		t.Fatalf("ListActiveSubscriptions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active subscription, got %d", len(active))
	}

	w = env.asCaller(env.local.Id, http.MethodDelete, "/api/push/subscriptions", `{"endpoint":"https://push.example/send/abc"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	active, _ = env.push.ListActiveSubscriptions(ctx, env.local.Id)
	if len(active) != 0 {
		t.Errorf("Expected no active subscriptions, got %d", len(active))
	}
}

func TestSubscribeValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing endpoint", `{"keys":{"p256dh":"BKey","auth":"secret"}}`},
		{"not a url", `{"endpoint":"push-me","keys":{"p256dh":"BKey","auth":"secret"}}`},
		{"missing keys", `{"endpoint":"https://push.example/send/abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.asCaller(env.local.Id, http.MethodPost, "/api/push/subscriptions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestNotificationsAPI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := &domain.Actor{Id: uuid.New(), Username: "carol", KeyPair: domain.KeyPair{PublicPem: "pub", PrivatePem: "priv"}, CreatedAt: time.Now()}
	if err := env.db.CreateActor(ctx, other); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}

	first := env.dispatcher.Notify(ctx, notify.Event{RecipientId: env.local.Id, ActorId: other.Id, Type: domain.NotificationFollow})
	env.dispatcher.Notify(ctx, notify.Event{RecipientId: env.local.Id, ActorId: other.Id, Type: domain.NotificationMention})
	foreign := env.dispatcher.Notify(ctx, notify.Event{RecipientId: other.Id, ActorId: env.local.Id, Type: domain.NotificationFollow})
	if first == nil || foreign == nil {
		t.Fatal("Notify failed")
	}

	w := env.asCaller(env.local.Id, http.MethodGet, "/api/notifications", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decodeJSON(t, w)
	if n := len(body["notifications"].([]interface{})); n != 2 {
		t.Errorf("Expected 2 notifications, got %d", n)
	}
	if body["unread"].(float64) != 2 {
		t.Errorf("Expected 2 unread, got %v", body["unread"])
	}
	if body["total"].(float64) != 2 {
		t.Errorf("Expected 2 in total, got %v", body["total"])
	}

	if w := env.asCaller(env.local.Id, http.MethodPost, "/api/notifications/"+first.Id.String()+"/read", ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w := env.asCaller(env.local.Id, http.MethodPost, "/api/notifications/"+foreign.Id.String()+"/read", ""); w.Code != http.StatusNotFound {
		t.Errorf("Marking another actor's notification should be 404, got %d", w.Code)
	}
	if w := env.asCaller(env.local.Id, http.MethodPost, "/api/notifications/nope/read", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a malformed id, got %d", w.Code)
	}

	w = env.asCaller(env.local.Id, http.MethodPost, "/api/notifications/read", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decodeJSON(t, w)["updated"].(float64) != 1 {
		t.Errorf("Expected 1 updated, got %s", w.Body.String())
	}

	unread, _ := env.dispatcher.UnreadCount(ctx, other.Id)
	if unread != 1 {
		t.Errorf("Other actor's notifications should be untouched, got %d unread", unread)
	}
}

func TestNotificationsAPIEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.asCaller(env.local.Id, http.MethodGet, "/api/notifications?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decodeJSON(t, w)
	if list, ok := body["notifications"].([]interface{}); !ok || len(list) != 0 {
		t.Errorf("Expected an empty list, got %v", body["notifications"])
	}
}
