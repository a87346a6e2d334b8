package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/push"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CallerHeader carries the id of the local actor the fronting layer
// authenticated.
const CallerHeader = "X-Actor-Id"

const callerKey = "caller"

type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	UserAgent string `json:"userAgent"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (s *Server) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(CallerHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing caller"})
			return
		}
		acc, err := s.store.ReadActorById(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown caller"})
			return
		}
		c.Set(callerKey, acc)
		c.Next()
	}
}

func caller(c *gin.Context) *domain.Actor {
	return c.MustGet(callerKey).(*domain.Actor)
}

func (s *Server) handlePushKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": s.conf.Push.VapidPublicKey})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	sub, err := s.push.SaveSubscription(c.Request.Context(), caller(c).Id, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, userAgent)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.push.RemoveSubscription(c.Request.Context(), caller(c).Id, req.Endpoint); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	recipient := caller(c).Id
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	list, err := s.notify.List(ctx, recipient, limit, offset)
	if err != nil {
		s.abort(c, err)
		return
	}
	unread, err := s.notify.UnreadCount(ctx, recipient)
	if err != nil {
		s.abort(c, err)
		return
	}
	total, err := s.notify.Total(ctx, recipient)
	if err != nil {
		s.abort(c, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread, "total": total})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid notification ID"})
		return
	}
	if err := s.notify.MarkRead(c.Request.Context(), caller(c).Id, id); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	n, err := s.notify.MarkAllRead(c.Request.Context(), caller(c).Id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// abort maps domain errors to HTTP statuses.
func (s *Server) abort(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateHandle),
		errors.Is(err, domain.ErrDuplicateFollow),
		errors.Is(err, domain.ErrDuplicateActivity):
		return http.StatusConflict
	case errors.Is(err, push.ErrInvalidSubscription),
		errors.Is(err, activitypub.ErrMalformedActivity):
		return http.StatusBadRequest
	case errors.Is(err, activitypub.ErrActorMismatch),
		errors.Is(err, activitypub.ErrBadSignature),
		errors.Is(err, activitypub.ErrMissingSignature),
		errors.Is(err, activitypub.ErrDigestMismatch):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
