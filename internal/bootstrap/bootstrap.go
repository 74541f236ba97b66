/**
 * @description
 * Dependency wiring shared by the server and the operator CLI: database pool,
 * optional Redis lock, RabbitMQ publisher, provider clients and services.
 */
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/quicklifts/prize-service/internal/app"
	"github.com/quicklifts/prize-service/internal/config"
	"github.com/quicklifts/prize-service/internal/confirmation"
	"github.com/quicklifts/prize-service/internal/store"
	"github.com/quicklifts/prize-service/pkg/brevoclient"
	"github.com/quicklifts/prize-service/pkg/rabbitmq"
	"github.com/quicklifts/prize-service/pkg/stripeclient"
)

// Services is the wired application graph.
type Services struct {
	Repository   *store.Repository
	Stripe       *stripeclient.Client
	Issuer       *confirmation.Issuer
	Notifier     *app.HostNotifier
	Retry        *app.RetryService
	Confirmation *app.ConfirmationService

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Options tunes the wiring per binary.
type Options struct {
	MaxConns int32
	MinConns int32
}

// New connects to the backing services and builds the application graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*Services, error) {
	s := &Services{}

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		pgConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pgConfig.MinConns = opts.MinConns
	}
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s.closers = append(s.closers, dbpool.Close)
	logger.Info("database connection established")

	var lock app.PassLock
	if redisClient := connectRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
		lock = app.NewRedisPassLock(redisClient, cfg.RetryLockKey, cfg.RetryLockTTL())
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err == nil {
			publisher = producer
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}
	s.closers = append(s.closers, publisher.Close)

	issuer, err := confirmation.NewIssuer(cfg.ConfirmationSigningSecret, cfg.ConfirmationValidity())
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Repository = store.NewRepository(dbpool)
	s.Stripe = stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)
	s.Issuer = issuer
	mailer := brevoclient.NewClient(cfg.BrevoAPIBaseURL, cfg.BrevoAPIKey, cfg.EmailSenderAddress, cfg.EmailSenderName)

	s.Notifier = app.NewHostNotifier(s.Repository, issuer, mailer, publisher, logger, app.HostNotifierConfig{
		SiteBaseURL:    cfg.SiteBaseURL,
		EventsExchange: cfg.EventsExchange,
	})
	s.Retry = app.NewRetryService(s.Repository, s.Stripe, s.Notifier, publisher, lock, logger, app.RetryServiceConfig{
		Currency:       cfg.PayoutCurrency,
		EventsExchange: cfg.EventsExchange,
	})
	s.Confirmation = app.NewConfirmationService(s.Repository, issuer, publisher, logger, cfg.EventsExchange)

	return s, nil
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// retry pass then relies on per-assignment claims alone.
func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info("redis url not set; retry pass lock disabled")
		return nil
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; retry pass lock disabled", "error", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; retry pass lock disabled", "error", err)
		_ = client.Close()
		return nil
	}

	logger.Info("redis connected")
	return client
}
