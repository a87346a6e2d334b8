package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
)

type signer struct {
	remote *domain.RemoteAccount
	keys   *domain.KeyPair
}

func newSigner(t *testing.T, env *testEnv, username string) *signer {
	t.Helper()
	keys, err := activitypub.GenerateIdentity(activitypub.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	return &signer{remote: env.addRemote(t, username, keys.PublicPem), keys: keys}
}

func (s *signer) keyID() string {
	return s.remote.ActorURI + "#main-key"
}

// post signs body with the signer's key and delivers it to path.
func (s *signer) post(t *testing.T, env *testEnv, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return s.postSigned(t, env, path, body, body)
}

// postSigned signs one body and sends another.
func (s *signer) postSigned(t *testing.T, env *testEnv, path string, signed, sent []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+path, bytes.NewReader(sent))
	req.Header.Set("Content-Type", activitypub.ContentType)

	privateKey, err := activitypub.ParsePrivateKey(s.keys.PrivatePem)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if err := activitypub.SignRequest(req, privateKey, s.keyID(), signed); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return env.do(req)
}

func followBody(t *testing.T, from *domain.RemoteAccount, id string) []byte {
	t.Helper()
	body, err := json.Marshal(activitypub.NewFollow(id, from.ActorURI, "https://tusk.example/users/alice"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return body
}

func TestInboxAcceptsSignedFollow(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")
	ctx := context.Background()

	w := bob.post(t, env, "/users/alice/inbox", followBody(t, bob.remote, "https://remote.example/follows/1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	f, err := env.follows.FollowBetween(ctx, bob.remote.Id, env.local.Id)
	if err != nil {
		t.Fatalf("Follow not stored: %v", err)
	}
	if !f.Accepted {
		t.Error("Follow should be auto-accepted")
	}
	if len(env.queue.acts) != 1 || env.queue.acts[0].ActivityType() != activitypub.TypeAccept {
		t.Errorf("Expected one queued Accept, got %v", env.queue.acts)
	}
	if env.queue.inbox[0] != bob.remote.InboxURI {
		t.Errorf("Accept queued for %s", env.queue.inbox[0])
	}

	unread, err := env.dispatcher.UnreadCount(ctx, env.local.Id)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if unread != 1 {
		t.Errorf("Expected a follow notification, got %d unread", unread)
	}
}

func TestInboxRejectsUnsigned(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	req := httptest.NewRequest(http.MethodPost, "/users/alice/inbox", bytes.NewReader(followBody(t, bob.remote, "https://remote.example/follows/1")))
	w := env.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestInboxRejectsTamperedBody(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	signed := followBody(t, bob.remote, "https://remote.example/follows/1")
	sent := followBody(t, bob.remote, "https://remote.example/follows/2")
	w := bob.postSigned(t, env, "/users/alice/inbox", signed, sent)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if items, _ := env.activities.ListInbox(context.Background(), env.local.Id, 10, 0); len(items) != 0 {
		t.Errorf("Tampered activity was stored: %d items", len(items))
	}
}

func TestInboxRejectsActivityForAnotherActor(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")
	mallory := env.addRemote(t, "mallory", "key")

	// Signed by bob, claims to be from mallory.
	w := bob.post(t, env, "/users/alice/inbox", followBody(t, mallory, "https://remote.example/follows/1"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestInboxUnknownLocalActor(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	w := bob.post(t, env, "/users/nobody/inbox", followBody(t, bob.remote, "https://remote.example/follows/1"))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestInboxIgnoresUnsupportedActivity(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	body := []byte(`{"id":"https://remote.example/updates/1","type":"Update","actor":"` + bob.remote.ActorURI + `","object":"x"}`)
	w := bob.post(t, env, "/users/alice/inbox", body)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}
}

func TestInboxRefetchesRotatedKey(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	rotated, err := activitypub.GenerateIdentity(activitypub.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	doc := activitypub.BuildActorDocument("https://remote.example", &domain.Actor{Username: "bob", KeyPair: *rotated})
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	env.docs[bob.remote.ActorURI] = raw
	bob.keys = rotated

	w := bob.post(t, env, "/users/alice/inbox", followBody(t, bob.remote, "https://remote.example/follows/1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 after refetch, got %d: %s", w.Code, w.Body.String())
	}

	stored, err := env.db.ReadRemoteAccountByURI(context.Background(), bob.remote.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}
	if stored.PublicKeyPem != rotated.PublicPem {
		t.Error("Rotated key was not stored")
	}
}

func TestInboxWrongKeyWithoutRefetch(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	other, err := activitypub.GenerateIdentity(activitypub.DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	bob.keys = other

	w := bob.post(t, env, "/users/alice/inbox", followBody(t, bob.remote, "https://remote.example/follows/1"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestSharedInboxRoutesByObject(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	w := bob.post(t, env, "/inbox", followBody(t, bob.remote, "https://remote.example/follows/1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.follows.FollowBetween(context.Background(), bob.remote.Id, env.local.Id); err != nil {
		t.Errorf("Shared inbox did not route the follow to alice: %v", err)
	}
}

func TestSharedInboxRoutesToLocalFollower(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")
	ctx := context.Background()

	f, err := env.follows.RequestFollow(ctx, env.local.Id, bob.remote.Id, "https://tusk.example/activities/1")
	if err != nil {
		t.Fatalf("RequestFollow failed: %v", err)
	}
	if err := env.follows.AcceptFollow(ctx, f.Id); err != nil {
		t.Fatalf("AcceptFollow failed: %v", err)
	}

	note := activitypub.NewNote("https://remote.example/notes/1", bob.remote.ActorURI, "public musings", "", nil, nil)
	create := activitypub.NewCreate("https://remote.example/activities/1", bob.remote.ActorURI, note, nil, nil)
	body, err := json.Marshal(create)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	w := bob.post(t, env, "/inbox", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	items, err := env.activities.ListInbox(ctx, env.local.Id, 10, 0)
	if err != nil {
		t.Fatalf("ListInbox failed: %v", err)
	}
	if len(items) != 1 || items[0].ActivityType != activitypub.TypeCreate {
		t.Errorf("Expected the Create in alice's inbox, got %v", items)
	}
}

func TestSharedInboxWithoutRecipient(t *testing.T) {
	env := newTestEnv(t)
	bob := newSigner(t, env, "bob")

	body := []byte(`{"id":"https://remote.example/likes/1","type":"Like","actor":"` + bob.remote.ActorURI + `","object":"https://elsewhere.example/notes/1"}`)
	w := bob.post(t, env, "/inbox", body)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}
	if items, _ := env.activities.ListInbox(context.Background(), env.local.Id, 10, 0); len(items) != 0 {
		t.Errorf("Nothing should be stored, got %d items", len(items))
	}
}

func TestSharedInboxBadJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader([]byte("{not json")))
	if w := env.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestAddresses(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected int
	}{
		{"single string", "https://a.example/users/x", 1},
		{"array", []interface{}{"https://a.example", "https://b.example"}, 2},
		{"array with non-strings", []interface{}{"https://a.example", 7.0}, 1},
		{"missing", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := addresses(tt.input); len(got) != tt.expected {
				t.Errorf("addresses(%v) = %v, want %d entries", tt.input, got, tt.expected)
			}
		})
	}
}
