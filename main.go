package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/tusk/activitypub"
	"github.com/deemkeen/tusk/db"
	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/notify"
	"github.com/deemkeen/tusk/push"
	"github.com/deemkeen/tusk/util"
	"github.com/deemkeen/tusk/web"
	"github.com/deemkeen/tusk/worker"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const reprocessInterval = time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          util.Name,
		Short:        "A small ActivityPub server with notifications and Web Push",
		Version:      util.GetVersion(),
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newActorCmd(),
		newFollowCmd(),
		newUnfollowCmd(),
		newPostCmd(),
		newVapidCmd(),
		newConfigCmd(),
	)
	return root
}

// app holds the collaborators every command builds from the config.
type app struct {
	conf       *util.AppConfig
	log        zerolog.Logger
	db         *db.DB
	resolver   *activitypub.Resolver
	follows    *activitypub.Follows
	activities *activitypub.ActivityLog
	delivery   *activitypub.DeliveryWorker
}

func openApp() (*app, error) {
	log := util.NewLogger(util.Name)
	conf, err := util.ReadConf(log)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(conf.Conf.DbDriver, conf.Conf.DbDsn, log)
	if err != nil {
		return nil, err
	}

	client := activitypub.NewHTTPClient(log, activitypub.WithMaxRetries(conf.Delivery.Retries))
	return &app{
		conf:       conf,
		log:        log,
		db:         database,
		resolver:   activitypub.NewResolver(database, client, log),
		follows:    activitypub.NewFollows(database, log),
		activities: activitypub.NewActivityLog(database, log),
		delivery:   activitypub.NewDeliveryWorker(database, client, conf.BaseURL(), conf.Delivery.Interval, conf.Delivery.BatchSize, log),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// outbox is used by the one-shot commands; deliveries are left in the
// queue for the running server.
func (a *app) outbox() *activitypub.Outbox {
	dispatcher := notify.NewDispatcher(a.db, nil, nil, a.log)
	return activitypub.NewOutbox(a.conf.BaseURL(), a.follows, a.activities, a.delivery, a.resolver, dispatcher, a.log)
}

func (a *app) localActor(ctx context.Context, handle string) (*domain.Actor, error) {
	acc, err := a.db.ReadActorByUsername(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("local actor %s: %w", handle, err)
	}
	return acc, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the delivery worker and the push workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	conf := a.conf
	a.log.Info().Str("version", util.GetVersion()).Str("domain", conf.Conf.SslDomain).Bool("activitypub", conf.Conf.WithAp).Msg("Starting")

	pool := worker.New(conf.Push.Workers, conf.Push.QueueSize, a.log)
	pool.Start(ctx)
	defer pool.Stop()

	sender := push.NewWebPushSender(push.VAPID{
		PublicKey:  conf.Push.VapidPublicKey,
		PrivateKey: conf.Push.VapidPrivateKey,
		Subscriber: conf.Push.Subscriber,
		TTL:        conf.Push.TTL,
	}, cleanhttp.DefaultPooledClient())
	pushService := push.NewService(a.db, sender, a.log)

	var pusher notify.Pusher
	if conf.Push.VapidPublicKey != "" && conf.Push.VapidPrivateKey != "" {
		pusher = pushService
	} else {
		a.log.Warn().Msg("No VAPID keys configured, push delivery disabled")
	}
	dispatcher := notify.NewDispatcher(a.db, pusher, pool, a.log)

	inbox := activitypub.NewInboxProcessor(conf.BaseURL(), a.db, a.follows, a.activities, a.delivery, dispatcher, a.resolver, a.log)
	server := web.NewServer(web.Deps{
		Conf:       conf,
		Store:      a.db,
		Resolver:   a.resolver,
		Follows:    a.follows,
		Activities: a.activities,
		Inbox:      inbox,
		Push:       pushService,
		Notify:     dispatcher,
		Log:        a.log,
	})

	g, ctx := errgroup.WithContext(ctx)
	if conf.Conf.WithAp {
		g.Go(func() error {
			if err := a.delivery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			if err := inbox.RunReprocessor(ctx, reprocessInterval, conf.Delivery.BatchSize); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return server.ListenAndServe(ctx)
	})

	err := g.Wait()
	a.log.Info().Int("pending_push", pool.Pending()).Msg("Shutting down")
	return err
}

func newActorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage local actors",
	}

	var displayName, summary string
	create := &cobra.Command{
		Use:   "create <handle>",
		Short: "Create a local actor with a fresh signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			identities := activitypub.NewIdentities(a.db, a.conf.Conf.KeyBits, a.log)
			acc, err := identities.CreateActor(cmd.Context(), args[0], displayName, summary)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), activitypub.ActorURLs(a.conf.BaseURL(), acc.Username).ID)
			return nil
		},
	}
	create.Flags().StringVar(&displayName, "name", "", "display name")
	create.Flags().StringVar(&summary, "summary", "", "profile summary")

	show := &cobra.Command{
		Use:   "show <handle>",
		Short: "Print a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), args[0], func(_ context.Context, a *app, local *domain.Actor) error {
				fmt.Fprintln(cmd.OutOrStdout(), local.ToString())
				fmt.Fprintf(cmd.OutOrStdout(), "Actor: %s\n", activitypub.ActorURLs(a.conf.BaseURL(), local.Username).ID)
				return nil
			})
		},
	}

	var newName, newSummary, avatar string
	update := &cobra.Command{
		Use:   "update <handle>",
		Short: "Replace a local actor's display name, summary and avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			identities := activitypub.NewIdentities(a.db, a.conf.Conf.KeyBits, a.log)
			acc, err := identities.UpdateProfile(cmd.Context(), args[0], newName, newSummary, avatar)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc.ToString())
			return nil
		},
	}
	update.Flags().StringVar(&newName, "name", "", "display name")
	update.Flags().StringVar(&newSummary, "summary", "", "profile summary")
	update.Flags().StringVar(&avatar, "avatar", "", "avatar URL")

	cmd.AddCommand(create, show, update)
	return cmd
}

func newFollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <handle> <actor-url>",
		Short: "Ask a remote actor to accept a local actor as follower",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), args[0], func(ctx context.Context, a *app, local *domain.Actor) error {
				f, err := a.outbox().Follow(ctx, local, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Follow %s queued, pending acceptance\n", f.URI)
				return nil
			})
		},
	}
}

func newUnfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <handle> <actor-url>",
		Short: "Stop following a remote actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), args[0], func(ctx context.Context, a *app, local *domain.Actor) error {
				return a.outbox().Unfollow(ctx, local, args[1])
			})
		},
	}
}

func newPostCmd() *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "post <handle> <content>",
		Short: "Publish a public note to a local actor's followers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), args[0], func(ctx context.Context, a *app, local *domain.Actor) error {
				create, err := a.outbox().PublishNote(ctx, local, util.NormalizeInput(args[1]), replyTo)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), create.Object.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the note this one replies to")
	return cmd
}

func withLocal(ctx context.Context, handle string, f func(context.Context, *app, *domain.Actor) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	local, err := a.localActor(ctx, handle)
	if err != nil {
		return err
	}
	return f(ctx, a, local)
}

func newVapidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair for Web Push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			publicKey, privateKey, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "push:\n  vapidPublicKey: %q\n  vapidPrivateKey: %q\n", publicKey, privateKey)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := util.ReadConf(zerolog.New(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if conf.Push.VapidPrivateKey != "" {
				conf.Push.VapidPrivateKey = "<redacted>"
			}
			fmt.Fprintln(cmd.OutOrStdout(), util.PrettyPrint(conf))
			return nil
		},
	}
}
