package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedSize = 50

var errNoUsername = errors.New("username is required")

func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.GetRSS(c.Request.Context(), c.Query("username"))
	switch {
	case errors.Is(err, errNoUsername):
		c.String(http.StatusBadRequest, "")
	case err != nil:
		s.log.Debug().Err(err).Str("username", c.Query("username")).Msg("No feed")
		c.String(http.StatusNotFound, "")
	default:
		c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
	}
}

// GetRSS renders the notes an actor published, read back from its outbox.
func (s *Server) GetRSS(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", errNoUsername
	}
	acc, err := s.store.ReadActorByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	items, err := s.store.ReadOutboxItemsByType(ctx, acc.Id, activitypub.TypeCreate, feedSize)
	if err != nil {
		return "", fmt.Errorf("error retrieving notes by username: %w", err)
	}

	email := fmt.Sprintf("%s@%s", acc.Username, s.conf.Conf.SslDomain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s Notes - %s", util.Name, acc.Username),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/feed?username=%s", s.baseURL, url.QueryEscape(acc.Username))},
		Description: fmt.Sprintf("Public notes of %s", acc.Name()),
		Author:      &feeds.Author{Name: acc.Name(), Email: email},
		Created:     time.Now(),
	}

	for _, item := range items {
		note := noteOf(item)
		if note == nil {
			continue
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      note.ID,
			Title:   publishedAt(note, item).Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: note.ID},
			Content: note.Content,
			Author:  &feeds.Author{Name: acc.Name(), Email: email},
			Created: publishedAt(note, item),
		})
	}
	return feed.ToRss()
}

func noteOf(item domain.OutboxItem) *activitypub.Note {
	act, err := activitypub.ParseActivity([]byte(item.RawJSON))
	if err != nil {
		return nil
	}
	create, ok := act.(*activitypub.Create)
	if !ok {
		return nil
	}
	return create.Object
}

func publishedAt(note *activitypub.Note, item domain.OutboxItem) time.Time {
	if t, err := time.Parse(time.RFC3339, note.Published); err == nil {
		return t
	}
	return item.CreatedAt
}
