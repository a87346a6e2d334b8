package activitypub

import (
	"context"
	"errors"
	"testing"

	"github.com/deemkeen/tusk/domain"
	"github.com/rs/zerolog"
)

func TestGenerateIdentity(t *testing.T) {
	keys, err := GenerateIdentity(DefaultKeyBits)
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	priv, err := ParsePrivateKey(keys.PrivatePem)
	if err != nil {
		t.Fatalf("Private key does not parse: %v", err)
	}
	pub, err := ParsePublicKey(keys.PublicPem)
	if err != nil {
		t.Fatalf("Public key does not parse: %v", err)
	}
	if !priv.PublicKey.Equal(pub) {
		t.Error("Public key does not belong to the private key")
	}
	if priv.N.BitLen() != DefaultKeyBits {
		t.Errorf("Expected %d bit key, got %d", DefaultKeyBits, priv.N.BitLen())
	}
}

func TestGenerateIdentityRejectsWeakKeys(t *testing.T) {
	_, err := GenerateIdentity(1024)
	if !errors.Is(err, domain.ErrKeyGeneration) {
		t.Errorf("Expected ErrKeyGeneration, got %v", err)
	}
}

func TestCreateActor(t *testing.T) {
	database := setupTestDB(t)
	ids := NewIdentities(database, DefaultKeyBits, zerolog.Nop())
	ctx := context.Background()

	acc, err := ids.CreateActor(ctx, "alice", "Alice", "hello")
	if err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}

	stored, err := database.ReadActorByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("ReadActorByUsername failed: %v", err)
	}
	if stored.Id != acc.Id || stored.PublicPem == "" || stored.PrivatePem == "" {
		t.Errorf("Expected stored actor with keys, got %+v", stored)
	}

	doc := BuildActorDocument(testBaseURL, stored)
	if doc.PublicKey.PublicKeyPem != stored.PublicPem {
		t.Error("Actor document does not publish the stored public key")
	}
	if doc.PublicKey.ID != testBaseURL+"/users/alice#main-key" || doc.PublicKey.Owner != doc.ID {
		t.Errorf("Unexpected key id/owner %+v", doc.PublicKey)
	}
	if doc.Icon != nil {
		t.Error("Expected no icon without an avatar")
	}
}

func TestCreateActorDuplicateHandle(t *testing.T) {
	database := setupTestDB(t)
	ids := NewIdentities(database, DefaultKeyBits, zerolog.Nop())
	ctx := context.Background()

	if _, err := ids.CreateActor(ctx, "alice", "", ""); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	if _, err := ids.CreateActor(ctx, "alice", "", ""); !errors.Is(err, domain.ErrDuplicateHandle) {
		t.Errorf("Expected ErrDuplicateHandle, got %v", err)
	}
}

func TestCreateActorKeyFailurePersistsNothing(t *testing.T) {
	database := setupTestDB(t)
	ids := NewIdentities(database, DefaultKeyBits, zerolog.Nop())
	ids.keygen = func(int) (*domain.KeyPair, error) {
		return nil, domain.ErrKeyGeneration
	}
	ctx := context.Background()

	if _, err := ids.CreateActor(ctx, "alice", "", ""); !errors.Is(err, domain.ErrKeyGeneration) {
		t.Fatalf("Expected ErrKeyGeneration, got %v", err)
	}
	if _, err := database.ReadActorByUsername(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected no actor after key failure, got %v", err)
	}
}

func TestCreateActorInvalidHandle(t *testing.T) {
	ids := NewIdentities(setupTestDB(t), DefaultKeyBits, zerolog.Nop())
	ids.keygen = func(int) (*domain.KeyPair, error) {
		t.Fatal("keygen must not run for an invalid handle")
		return nil, nil
	}

	for _, handle := range []string{"", "bob smith", "bob@example.com", "ünicode"} {
		if _, err := ids.CreateActor(context.Background(), handle, "", ""); err == nil {
			t.Errorf("Expected error for handle %q", handle)
		}
	}
}

func TestActorDocumentIcon(t *testing.T) {
	tests := []struct {
		avatar    string
		mediaType string
	}{
		{"https://tusk.example/avatars/a.png", "image/png"},
		{"https://tusk.example/avatars/a.GIF", "image/gif"},
		{"https://tusk.example/avatars/a.webp", "image/webp"},
		{"https://tusk.example/avatars/a.jpg", "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			doc := BuildActorDocument(testBaseURL, &domain.Actor{Username: "alice", AvatarURL: tt.avatar})
			if doc.Icon == nil {
				t.Fatal("Expected icon")
			}
			if doc.Icon.URL != tt.avatar || doc.Icon.MediaType != tt.mediaType {
				t.Errorf("Unexpected icon %+v", doc.Icon)
			}
		})
	}
}

func TestActorURLs(t *testing.T) {
	urls := ActorURLs(testBaseURL+"/", "alice")

	want := URLs{
		ID:          "https://tusk.example/users/alice",
		Inbox:       "https://tusk.example/users/alice/inbox",
		Outbox:      "https://tusk.example/users/alice/outbox",
		Followers:   "https://tusk.example/users/alice/followers",
		Following:   "https://tusk.example/users/alice/following",
		SharedInbox: "https://tusk.example/inbox",
		KeyID:       "https://tusk.example/users/alice#main-key",
	}
	if urls != want {
		t.Errorf("ActorURLs = %+v, want %+v", urls, want)
	}
}

func TestUpdateProfile(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	ids := NewIdentities(database, DefaultKeyBits, zerolog.Nop())

	created, err := ids.CreateActor(ctx, "alice", "Alice", "")
	if err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}

	updated, err := ids.UpdateProfile(ctx, "alice", "Alice A.", "hello", "https://tusk.example/avatar.png")
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.DisplayName != "Alice A." || updated.AvatarURL != "https://tusk.example/avatar.png" {
		t.Errorf("Unexpected actor %+v", updated)
	}

	stored, _ := database.ReadActorByUsername(ctx, "alice")
	if stored.Summary != "hello" || stored.KeyPair.PrivatePem != created.KeyPair.PrivatePem {
		t.Errorf("Expected new summary and the old key pair, got %+v", stored)
	}

	if _, err := ids.UpdateProfile(ctx, "nobody", "x", "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := ids.UpdateProfile(ctx, "alice", "x", "", "javascript:alert(1)"); err == nil {
		t.Error("Expected a non-http avatar to be rejected")
	}
}
