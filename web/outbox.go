package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/gin-gonic/gin"
)

const outboxPageSize = 20

// handleOutbox serves an actor's logged outbound activities, newest first.
// Without a page parameter only the collection metadata is returned.
func (s *Server) handleOutbox(c *gin.Context) {
	ctx := c.Request.Context()
	acc, err := s.store.ReadActorByUsername(ctx, c.Param("actor"))
	if err != nil {
		s.abort(c, err)
		return
	}

	outboxURL := activitypub.ActorURLs(s.baseURL, acc.Username).Outbox
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := s.store.CountOutboxItems(ctx, acc.Id)
		if err != nil {
			s.abort(c, err)
			return
		}
		activityJSON(c, http.StatusOK, map[string]interface{}{
			"@context":   activitypub.ContextActivityStreams,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		})
		return
	}

	// One extra row tells whether a next page exists.
	items, err := s.activities.ListOutbox(ctx, acc.Id, outboxPageSize+1, (page-1)*outboxPageSize)
	if err != nil {
		s.abort(c, err)
		return
	}
	hasMore := len(items) > outboxPageSize
	if hasMore {
		items = items[:outboxPageSize]
	}

	collectionPage := map[string]interface{}{
		"@context":     activitypub.ContextActivityStreams,
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": rawActivities(items),
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	activityJSON(c, http.StatusOK, collectionPage)
}

// rawActivities embeds the logged JSON as sent.
func rawActivities(items []domain.OutboxItem) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if json.Valid([]byte(item.RawJSON)) {
			out = append(out, json.RawMessage(item.RawJSON))
		}
	}
	return out
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
