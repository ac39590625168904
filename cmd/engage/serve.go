package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/basketly/engage/internal/agent"
	"github.com/basketly/engage/internal/assistant"
	"github.com/basketly/engage/internal/config"
	"github.com/basketly/engage/internal/contact"
	"github.com/basketly/engage/internal/conversation"
	"github.com/basketly/engage/internal/db"
	"github.com/basketly/engage/internal/delivery"
	"github.com/basketly/engage/internal/gateway"
	"github.com/basketly/engage/internal/handlers"
	"github.com/basketly/engage/internal/logger"
	"github.com/basketly/engage/internal/mention"
	"github.com/basketly/engage/internal/message"
	"github.com/basketly/engage/internal/notify"
	"github.com/basketly/engage/internal/pipeline"
	"github.com/basketly/engage/internal/profile"
	"github.com/basketly/engage/internal/server"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Supply(configPath(cfgPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideDetector,
			provideGatewayClient,
			provideAgentClient,
			provideAssistantClient,
			provideBindingManager,
			provideContactStore,
			provideProfileStore,
			provideConversationStore,
			provideMessageStore,
			provideInteractionStore,
			provideDeliveryPipeline,
			providePropagator,
			provideFeed,
			provideProcessor,
			providePingHandler,
			provideWebhookHandler,
			provideSendHandler,
			provideConversationsHandler,
			provideProfilesHandler,
			provideNotificationsHandler,
			provideAssistantsHandler,
			provideServer,
		),
		fx.Invoke(
			startPropagator,
			startFeed,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

type configPath string

func provideConfig(path configPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	log.Info("database connected",
		slog.String("host", cfg.Postgres.Host),
		slog.String("database", cfg.Postgres.Database))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func provideDetector(cfg config.Config) *mention.Detector {
	return mention.NewDetector(cfg.Mention.Patterns)
}

func provideGatewayClient(log *slog.Logger, cfg config.Config) *gateway.Client {
	return gateway.NewClient(log, cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
}

func provideAgentClient(log *slog.Logger, cfg config.Config) *agent.Client {
	return agent.NewClient(log, cfg.Agent.BaseURL, cfg.Agent.APIKey,
		time.Duration(cfg.Agent.TimeoutSeconds)*time.Second)
}

func provideAssistantClient(log *slog.Logger, cfg config.Config) *assistant.Client {
	return assistant.NewClient(log, cfg.Assistant.BaseURL, cfg.Assistant.APIKey,
		cfg.Assistant.GraphID, time.Duration(cfg.Assistant.TimeoutSeconds)*time.Second)
}

func provideBindingManager(log *slog.Logger, client *assistant.Client, conversations *conversation.Store) *assistant.Manager {
	return assistant.NewManager(log, client, conversations)
}

func provideContactStore(log *slog.Logger, pool *pgxpool.Pool) *contact.Store {
	return contact.NewStore(log, pool)
}

func provideProfileStore(log *slog.Logger, pool *pgxpool.Pool) *profile.Store {
	return profile.NewStore(log, pool)
}

func provideConversationStore(log *slog.Logger, pool *pgxpool.Pool) *conversation.Store {
	return conversation.NewStore(log, pool)
}

func provideMessageStore(log *slog.Logger, pool *pgxpool.Pool) *message.Store {
	return message.NewStore(log, pool)
}

func provideInteractionStore(log *slog.Logger, pool *pgxpool.Pool) *assistant.InteractionStore {
	return assistant.NewInteractionStore(log, pool)
}

func provideDeliveryPipeline(log *slog.Logger, client *gateway.Client, messages *message.Store, conversations *conversation.Store) *delivery.Pipeline {
	return delivery.NewPipeline(log, client, messages, conversations)
}

func providePropagator(log *slog.Logger, cfg config.Config, conversations *conversation.Store) *notify.Propagator {
	return notify.New(log, conversations, conversations,
		time.Duration(cfg.Notify.DebounceMillis)*time.Millisecond,
		time.Duration(cfg.Notify.ResyncSeconds)*time.Second)
}

func provideFeed(log *slog.Logger, pool *pgxpool.Pool, propagator *notify.Propagator) *notify.Feed {
	return notify.NewFeed(log, pool, propagator)
}

func provideProcessor(
	log *slog.Logger,
	detector *mention.Detector,
	contacts *contact.Store,
	conversations *conversation.Store,
	messages *message.Store,
	profiles *profile.Store,
	binder *assistant.Manager,
	agentClient *agent.Client,
	deliverer *delivery.Pipeline,
	interactions *assistant.InteractionStore,
	propagator *notify.Propagator,
) *pipeline.Processor {
	return pipeline.NewProcessor(log, detector, contacts, conversations, messages,
		profiles, binder, agentClient, deliverer, interactions, propagator)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, processor *pipeline.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, processor, cfg.Gateway.WebhookSecret)
}

func provideSendHandler(log *slog.Logger, contacts *contact.Store, conversations *conversation.Store, deliverer *delivery.Pipeline) *handlers.SendHandler {
	return handlers.NewSendHandler(log, contacts, conversations, deliverer)
}

func provideConversationsHandler(log *slog.Logger, conversations *conversation.Store, messages *message.Store, propagator *notify.Propagator) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, conversations, messages, propagator)
}

func provideProfilesHandler(log *slog.Logger, profiles *profile.Store) *handlers.ProfilesHandler {
	return handlers.NewProfilesHandler(log, profiles)
}

func provideNotificationsHandler(log *slog.Logger, propagator *notify.Propagator) *handlers.NotificationsHandler {
	return handlers.NewNotificationsHandler(log, propagator)
}

func provideAssistantsHandler(log *slog.Logger, interactions *assistant.InteractionStore, detector *mention.Detector) *handlers.AssistantsHandler {
	return handlers.NewAssistantsHandler(log, interactions, detector)
}

func provideServer(
	cfg config.Config,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	sendHandler *handlers.SendHandler,
	conversationsHandler *handlers.ConversationsHandler,
	profilesHandler *handlers.ProfilesHandler,
	notificationsHandler *handlers.NotificationsHandler,
	assistantsHandler *handlers.AssistantsHandler,
) *server.Server {
	return server.NewServer(cfg.Server.Addr, pingHandler, webhookHandler,
		sendHandler, conversationsHandler, profilesHandler, notificationsHandler, assistantsHandler)
}

func startPropagator(lc fx.Lifecycle, propagator *notify.Propagator) {
	lc.Append(fx.Hook{
		OnStart: propagator.Start,
		OnStop:  propagator.Stop,
	})
}

func startFeed(lc fx.Lifecycle, feed *notify.Feed) {
	lc.Append(fx.Hook{
		OnStart: feed.Start,
		OnStop:  feed.Stop,
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting server", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
