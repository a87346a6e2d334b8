package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleActor(c *gin.Context) {
	acc, err := s.store.ReadActorByUsername(c.Request.Context(), c.Param("actor"))
	if err != nil {
		s.abort(c, err)
		return
	}
	activityJSON(c, http.StatusOK, activitypub.BuildActorDocument(s.baseURL, acc))
}

func (s *Server) handleFollowers(c *gin.Context) {
	s.followCollection(c, followSide{
		list:  s.follows.GetFollowers,
		count: s.store.CountFollowers,
		other: func(f domain.Follow) uuid.UUID { return f.AccountId },
		url:   func(u activitypub.URLs) string { return u.Followers },
	})
}

func (s *Server) handleFollowing(c *gin.Context) {
	s.followCollection(c, followSide{
		list:  s.follows.GetFollowing,
		count: s.store.CountFollowing,
		other: func(f domain.Follow) uuid.UUID { return f.TargetAccountId },
		url:   func(u activitypub.URLs) string { return u.Following },
	})
}

// followSide is one direction of an actor's accepted follows.
type followSide struct {
	list  func(context.Context, uuid.UUID) ([]domain.Follow, error)
	count func(context.Context, uuid.UUID) (int, error)
	other func(domain.Follow) uuid.UUID
	url   func(activitypub.URLs) string
}

// followCollection renders one side of an actor's accepted follows as an
// OrderedCollection of actor ids. totalItems counts accepted rows, even
// those whose actor can no longer be resolved.
func (s *Server) followCollection(c *gin.Context, side followSide) {
	ctx := c.Request.Context()
	acc, err := s.store.ReadActorByUsername(ctx, c.Param("actor"))
	if err != nil {
		s.abort(c, err)
		return
	}

	follows, err := side.list(ctx, acc.Id)
	if err != nil {
		s.abort(c, err)
		return
	}
	total, err := side.count(ctx, acc.Id)
	if err != nil {
		s.abort(c, err)
		return
	}

	items := make([]string, 0, len(follows))
	for _, f := range follows {
		if uri := s.actorURI(ctx, side.other(f)); uri != "" {
			items = append(items, uri)
		}
	}

	activityJSON(c, http.StatusOK, map[string]interface{}{
		"@context":     activitypub.ContextActivityStreams,
		"id":           side.url(activitypub.ActorURLs(s.baseURL, acc.Username)),
		"type":         "OrderedCollection",
		"totalItems":   total,
		"orderedItems": items,
	})
}

// actorURI resolves an account id, local or remote, to its actor id.
func (s *Server) actorURI(ctx context.Context, id uuid.UUID) string {
	if acc, err := s.store.ReadActorById(ctx, id); err == nil {
		return activitypub.ActorURLs(s.baseURL, acc.Username).ID
	}
	if remote, err := s.resolver.ActorById(ctx, id); err == nil {
		return remote.ActorURI
	}
	return ""
}

func activityJSON(c *gin.Context, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode response"})
		return
	}
	c.Data(status, activityContentType, body)
}
