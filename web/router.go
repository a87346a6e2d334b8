package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/db"
	"github.com/deemkeen/tusk/notify"
	"github.com/deemkeen/tusk/push"
	"github.com/deemkeen/tusk/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const activityContentType = "application/activity+json; charset=utf-8"

// Deps are the collaborators the HTTP surface calls into.
type Deps struct {
	Conf       *util.AppConfig
	Store      *db.DB
	Resolver   *activitypub.Resolver
	Follows    *activitypub.Follows
	Activities *activitypub.ActivityLog
	Inbox      *activitypub.InboxProcessor
	Push       *push.Service
	Notify     *notify.Dispatcher
	Log        zerolog.Logger
}

type Server struct {
	conf       *util.AppConfig
	baseURL    string
	store      *db.DB
	resolver   *activitypub.Resolver
	follows    *activitypub.Follows
	activities *activitypub.ActivityLog
	inbox      *activitypub.InboxProcessor
	push       *push.Service
	notify     *notify.Dispatcher
	log        zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		conf:       d.Conf,
		baseURL:    d.Conf.BaseURL(),
		store:      d.Store,
		resolver:   d.Resolver,
		follows:    d.Follows,
		activities: d.Activities,
		inbox:      d.Inbox,
		push:       d.Push,
		notify:     d.Notify,
		log:        util.Component(d.Log, "web"),
	}
}

// Router builds the gin engine. Federation routes are mounted only when
// ActivityPub is enabled in the config.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	g.GET("/healthz", s.handleHealth)
	g.GET("/feed", s.handleFeed)

	api := g.Group("/api", s.requireCaller())
	api.GET("/push/key", s.handlePushKey)
	api.POST("/push/subscriptions", s.handleSubscribe)
	api.DELETE("/push/subscriptions", s.handleUnsubscribe)
	api.GET("/notifications", s.handleNotifications)
	api.POST("/notifications/read", s.handleMarkAllRead)
	api.POST("/notifications/:id/read", s.handleMarkRead)

	if s.conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/.well-known/webfinger", s.handleWebfinger)
		g.GET("/users/:actor", s.handleActor)
		g.GET("/users/:actor/outbox", s.handleOutbox)
		g.GET("/users/:actor/followers", s.handleFollowers)
		g.GET("/users/:actor/following", s.handleFollowing)
		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleSharedInbox)
	}
	return g
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("Database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	pending, err := s.store.CountDeliveries(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count deliveries")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pendingDeliveries": pending})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
