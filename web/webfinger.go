package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/gin-gonic/gin"
)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []WebfingerLink `json:"links"`
}

func (s *Server) handleWebfinger(c *gin.Context) {
	resp, err := s.webfinger(c.Request.Context(), c.Query("resource"))
	if err != nil {
		c.Data(http.StatusNotFound, "application/json; charset=utf-8", []byte(GetWebFingerNotFound()))
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, resp)
}

// webfinger answers acct:<handle>[@<domain>] for local actors.
func (s *Server) webfinger(ctx context.Context, resource string) (*WebfingerResponse, error) {
	handle, ok := ParseAcct(resource, s.conf.Conf.SslDomain)
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc, err := s.store.ReadActorByUsername(ctx, handle)
	if err != nil {
		return nil, err
	}

	actorURL := activitypub.ActorURLs(s.baseURL, acc.Username).ID
	return &WebfingerResponse{
		Subject: "acct:" + acc.Username + "@" + s.conf.Conf.SslDomain,
		Aliases: []string{actorURL},
		Links: []WebfingerLink{{
			Rel:  "self",
			Type: activitypub.ContentType,
			Href: actorURL,
		}},
	}, nil
}

// ParseAcct extracts the handle from an acct: resource. A domain other
// than ours never matches.
func ParseAcct(resource, ourDomain string) (string, bool) {
	rest, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return "", false
	}
	rest, leadingAt := strings.CutPrefix(rest, "@")
	handle, host, hasHost := strings.Cut(rest, "@")
	if leadingAt && !hasHost {
		// "acct:@host" names no one
		return "", false
	}
	if hasHost && !strings.EqualFold(host, ourDomain) {
		return "", false
	}
	if handle == "" {
		return "", false
	}
	return handle, true
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
