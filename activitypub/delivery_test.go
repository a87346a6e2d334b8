package activitypub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/tusk/db"
	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newDeliveryActor(t *testing.T, database *db.DB) *domain.Actor {
	t.Helper()
	keys, err := GenerateIdentity(DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	acc := &domain.Actor{Id: uuid.New(), Username: "alice", KeyPair: *keys}
	if err := database.CreateActor(context.Background(), acc); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	return acc
}

func TestDeliverySignsAndDelivers(t *testing.T) {
	database := setupTestDB(t)
	sender := newDeliveryActor(t, database)
	ctx := context.Background()

	var verified atomic.Bool
	var gotType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := VerifyDigest(r.Header.Get("Digest"), body); err != nil {
			t.Errorf("Digest check failed: %v", err)
		}
		keyOwner, err := VerifyRequest(r, sender.PublicPem)
		if err != nil {
			t.Errorf("Signature check failed: %v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if keyOwner != ActorURLs(testBaseURL, "alice").ID {
			t.Errorf("Unexpected key owner %s", keyOwner)
		}
		if r.Header.Get("Content-Type") != ContentType {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(body, &head)
		gotType.Store(head.Type)
		verified.Store(true)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	worker := NewDeliveryWorker(database, srv.Client(), testBaseURL, time.Second, 10, zerolog.Nop())
	follow := NewFollow(NewActivityID(testBaseURL), ActorURLs(testBaseURL, "alice").ID, srv.URL+"/users/bob")
	if err := worker.Enqueue(ctx, sender, srv.URL+"/users/bob/inbox", follow); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if n := worker.ProcessQueue(ctx); n != 1 {
		t.Fatalf("Expected one delivery, got %d", n)
	}
	if !verified.Load() || gotType.Load() != TypeFollow {
		t.Error("Remote did not receive a verified Follow")
	}
	if count, _ := database.CountDeliveries(ctx); count != 0 {
		t.Errorf("Expected queue drained, got %d", count)
	}
}

func TestDeliveryFailureReschedules(t *testing.T) {
	database := setupTestDB(t)
	sender := newDeliveryActor(t, database)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	worker := NewDeliveryWorker(database, srv.Client(), testBaseURL, time.Second, 10, zerolog.Nop())
	start := time.Now()
	worker.now = func() time.Time { return start }

	like := NewLike(NewActivityID(testBaseURL), ActorURLs(testBaseURL, "alice").ID, srv.URL+"/notes/1")
	if err := worker.Enqueue(ctx, sender, srv.URL+"/inbox", like); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if n := worker.ProcessQueue(ctx); n != 0 {
		t.Fatalf("Expected no successful delivery, got %d", n)
	}

	// Not due again until the first backoff has passed.
	if n := worker.ProcessQueue(ctx); n != 0 || hits.Load() != 1 {
		t.Errorf("Expected item to wait for backoff, got %d hits", hits.Load())
	}

	pending, err := database.ReadPendingDeliveries(ctx, start.Add(Backoff(1)), 10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("Expected one rescheduled item with 1 attempt, got %+v", pending)
	}
}

func TestDeliveryGivesUp(t *testing.T) {
	database := setupTestDB(t)
	sender := newDeliveryActor(t, database)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	worker := NewDeliveryWorker(database, srv.Client(), testBaseURL, time.Second, 10, zerolog.Nop())
	like := NewLike(NewActivityID(testBaseURL), ActorURLs(testBaseURL, "alice").ID, srv.URL+"/notes/1")
	if err := worker.Enqueue(ctx, sender, srv.URL+"/inbox", like); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, _ := database.ReadPendingDeliveries(ctx, time.Now(), 10)
	if len(items) != 1 {
		t.Fatalf("Expected one queued item, got %d", len(items))
	}
	if err := database.UpdateDeliveryAttempt(ctx, items[0].Id, maxDeliveryAttempts-1, time.Now()); err != nil {
		t.Fatalf("UpdateDeliveryAttempt failed: %v", err)
	}

	worker.ProcessQueue(ctx)
	if count, _ := database.CountDeliveries(ctx); count != 0 {
		t.Errorf("Expected item dropped after %d attempts, %d left", maxDeliveryAttempts, count)
	}
}

func TestDeliveryRunStopsOnCancel(t *testing.T) {
	worker := NewDeliveryWorker(setupTestDB(t), http.DefaultClient, testBaseURL, 10*time.Millisecond, 10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, time.Hour},
		{5, 4 * time.Hour},
		{6, 24 * time.Hour},
		{9, 24 * time.Hour},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
