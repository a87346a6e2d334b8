package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read inbox body")
		c.Status(http.StatusBadRequest)
		return
	}
	s.receive(c, c.Param("actor"), body)
}

// handleSharedInbox routes a delivery to /inbox to the local actor it is
// addressed to.
func (s *Server) handleSharedInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.log.Warn().Err(err).Msg("Shared inbox: failed to read body")
		c.Status(http.StatusBadRequest)
		return
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		s.log.Warn().Err(err).Msg("Shared inbox: failed to parse activity")
		c.Status(http.StatusBadRequest)
		return
	}

	target := s.sharedInboxTarget(c.Request.Context(), activity)
	if target == "" {
		s.log.Info().Interface("type", activity["type"]).Msg("Shared inbox: no local recipient")
		c.Status(http.StatusAccepted)
		return
	}

	s.log.Debug().Str("target", target).Msg("Shared inbox: routing")
	s.receive(c, target, body)
}

// sharedInboxTarget looks for a local actor in to, then cc, then the
// object, and finally falls back to a local follower of the sender.
func (s *Server) sharedInboxTarget(ctx context.Context, activity map[string]interface{}) string {
	for _, field := range []string{"to", "cc"} {
		for _, uri := range addresses(activity[field]) {
			if handle := s.localHandle(uri); handle != "" {
				return handle
			}
		}
	}

	switch obj := activity["object"].(type) {
	case string:
		if handle := s.localHandle(obj); handle != "" {
			return handle
		}
	case map[string]interface{}:
		// An Accept or Undo embedding one of our Follows.
		for _, field := range []string{"actor", "object"} {
			if uri, ok := obj[field].(string); ok {
				if handle := s.localHandle(uri); handle != "" {
					return handle
				}
			}
		}
	}

	actorURI, _ := activity["actor"].(string)
	if actorURI == "" {
		return ""
	}
	remote, err := s.store.ReadRemoteAccountByURI(ctx, actorURI)
	if err != nil {
		return ""
	}
	// Our accounts following the sender are the follows targeting it.
	follows, err := s.follows.GetFollowers(ctx, remote.Id)
	if err != nil {
		return ""
	}
	for _, f := range follows {
		if acc, err := s.store.ReadActorById(ctx, f.AccountId); err == nil {
			return acc.Username
		}
	}
	return ""
}

// localHandle extracts the handle from <base>/users/<handle>[/...].
func (s *Server) localHandle(uri string) string {
	rest, ok := strings.CutPrefix(uri, s.baseURL+"/users/")
	if !ok {
		return ""
	}
	handle, _, _ := strings.Cut(rest, "/")
	handle, _, _ = strings.Cut(handle, "#")
	return handle
}

func addresses(v interface{}) []string {
	switch a := v.(type) {
	case string:
		return []string{a}
	case []interface{}:
		out := make([]string, 0, len(a))
		for _, item := range a {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// receive verifies the sender and hands the activity to the inbox processor.
func (s *Server) receive(c *gin.Context, username string, body []byte) {
	ctx := c.Request.Context()

	local, err := s.store.ReadActorByUsername(ctx, username)
	if err != nil {
		s.abort(c, err)
		return
	}

	remote, err := s.verify(ctx, c.Request, body)
	if err != nil {
		s.log.Warn().Err(err).Str("inbox", username).Msg("Rejected inbound activity")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
		return
	}

	err = s.inbox.Process(ctx, local, remote, body)
	if errors.Is(err, activitypub.ErrUnsupportedActivity) {
		// Accept anyway so the sender does not retry.
		s.log.Debug().Err(err).Msg("Unsupported activity ignored")
		c.Status(http.StatusAccepted)
		return
	}
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// verify checks the body digest and the HTTP signature and returns the
// signing actor. A failed check against a cached key is retried once with
// a freshly fetched actor in case the key was rotated.
func (s *Server) verify(ctx context.Context, req *http.Request, body []byte) (*domain.RemoteAccount, error) {
	if err := activitypub.VerifyDigest(req.Header.Get("Digest"), body); err != nil {
		return nil, err
	}

	keyId, err := activitypub.SignatureKeyID(req)
	if err != nil {
		return nil, err
	}
	owner := activitypub.KeyOwner(keyId)

	remote, err := s.resolver.GetOrFetchActor(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown signer %s: %v", activitypub.ErrBadSignature, owner, err)
	}
	if _, err := activitypub.VerifyRequest(req, remote.PublicKeyPem); err == nil {
		return remote, nil
	}

	remote, err = s.resolver.Refresh(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: refetch of %s failed: %v", activitypub.ErrBadSignature, owner, err)
	}
	if _, err := activitypub.VerifyRequest(req, remote.PublicKeyPem); err != nil {
		return nil, err
	}
	return remote, nil
}
