package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/deemkeen/tusk/activitypub"
)

func TestFeed(t *testing.T) {
	env := newTestEnv(t)
	publishNotes(t, env, 2)

	// A Follow in the outbox is not a note.
	follow := activitypub.NewFollow(activitypub.NewActivityID(env.conf.BaseURL()), "https://tusk.example/users/alice", "https://remote.example/users/bob")
	raw, _ := json.Marshal(follow)
	if _, err := env.activities.AppendOutbound(context.Background(), env.local.Id, follow.ID, follow.Type, raw); err != nil {
		t.Fatalf("AppendOutbound failed: %v", err)
	}

	w := env.get("/feed?username=alice")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("Unexpected content type %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<rss") {
		t.Error("Expected an RSS document")
	}
	if strings.Count(body, "<item>") != 2 {
		t.Errorf("Expected 2 items, got %d", strings.Count(body, "<item>"))
	}
	if !strings.Contains(body, "note 0") || !strings.Contains(body, "note 1") {
		t.Error("Feed is missing note content")
	}
	if !strings.Contains(body, "tusk Notes - alice") {
		t.Error("Feed title should name the actor")
	}
}

func TestFeedErrors(t *testing.T) {
	env := newTestEnv(t)

	if w := env.get("/feed"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without username, got %d", w.Code)
	}
	if w := env.get("/feed?username=nobody"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", w.Code)
	}
}

func TestFeedWithoutNotes(t *testing.T) {
	env := newTestEnv(t)

	rss, err := env.serverForFeed().GetRSS(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetRSS failed: %v", err)
	}
	if strings.Contains(rss, "<item>") {
		t.Error("Expected no items")
	}
}

func (e *testEnv) serverForFeed() *Server {
	return NewServer(Deps{Conf: e.conf, Store: e.db, Activities: e.activities})
}
