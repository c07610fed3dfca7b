// Package bootstrap wires the collaborators every binary shares: the Redis
// coordination store, the durable store and the notifier.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/app/config"
	"github.com/kratos2377/rally-matchmaker/domain/confirmation"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/matchmaking"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

type Engine struct {
	Config   config.Config
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Redis    *redis.Client
	Coord    *coordination.Store
	Requests store.SearchRequests
	Matches  store.Matches
	Profiles store.Profiles
	// Memory is set when STORE_DRIVER is memory, for seeding profiles.
	Memory   *store.Memory
	Notifier notify.Notifier
	Enqueuer *searches.Enqueuer

	closers []func() error
}

// New connects to Redis and the durable store. Notifications go to Kafka
// when brokers are configured, and to every local notifier passed in.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, local ...notify.Notifier) (*Engine, error) {
	e := &Engine{Config: cfg, Logger: logger, Clock: clockwork.NewRealClock()}

	e.Redis = redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddress,
		DB:              cfg.RedisDB,
		Password:        cfg.RedisPassword,
		MaxRetries:      3,
		ConnMaxIdleTime: 3 * time.Minute,
	})
	e.closers = append(e.closers, e.Redis.Close)
	if err := e.Redis.Ping(ctx).Err(); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping redis at %s: %w", cfg.RedisAddress, err), e.Close())
	}

	e.Coord = coordination.NewStore(e.Redis, coordination.Keys{Prefix: cfg.RedisKeyPrefix}, coordination.TTLs{
		Search:   cfg.SearchTTL,
		Lock:     cfg.LockTTL,
		Confirm:  cfg.ConfirmTTL,
		Cooldown: cfg.CooldownTTL,
	})

	switch cfg.StoreDriver {
	case config.StoreDriverDynamoDB:
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, multierr.Append(err, e.Close())
		}
		d := store.NewDynamo(client, store.DynamoConfig{
			RequestsTable:      cfg.DynamoRequestsTable,
			MatchesTable:       cfg.DynamoMatchesTable,
			ProfilesTable:      cfg.DynamoProfilesTable,
			StatusIndex:        cfg.DynamoStatusIndex,
			StatusUpdatedIndex: cfg.DynamoUpdatedIndex,
		}, e.Clock)
		e.Requests, e.Matches, e.Profiles = d.Requests(), d.Matches(), d.Profiles()
	default:
		e.Memory = store.NewMemory(e.Clock)
		e.Requests, e.Matches, e.Profiles = e.Memory.Requests(), e.Memory.Matches(), e.Memory.Profiles()
	}

	fanout := notify.Fanout(local)
	if len(cfg.KafkaBrokers) > 0 {
		writer := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		e.closers = append(e.closers, writer.Close)
		fanout = append(fanout, notify.NewKafkaNotifier(writer))
	}
	e.Notifier = fanout
	e.Enqueuer = searches.NewEnqueuer(e.Coord, e.Profiles, e.Clock)

	logger.Info("engine collaborators ready",
		"store", cfg.StoreDriver, "redis", cfg.RedisAddress, "kafka_brokers", len(cfg.KafkaBrokers), "venues", cfg.Venues)
	return e, nil
}

func (e *Engine) MatchPlayers() *matchmaking.MatchPlayersUseCase {
	return matchmaking.NewMatchPlayersUseCase(e.Requests, e.Coord, e.Notifier, matchmaking.MatchPlayerUseCaseConfig{
		Venues:        e.Config.Venues,
		MaxRatingDiff: e.Config.MaxRatingDiff,
		Concurrency:   e.Config.ScanConcurrency,
		Logger:        e.Logger,
	})
}

func (e *Engine) Finalizer() *confirmation.Finalizer {
	return confirmation.NewFinalizer(e.Requests, e.Matches, e.Coord, e.Notifier, e.Logger)
}

func (e *Engine) ReapPending() *confirmation.ReapPendingUseCase {
	return confirmation.NewReapPendingUseCase(e.Requests, e.Coord, e.Enqueuer, e.Notifier, e.Finalizer(), confirmation.ReapPendingUseCaseConfig{
		BatchSize:  e.Config.ReaperBatchSize,
		ConfirmTTL: e.Config.ConfirmTTL,
		Clock:      e.Clock,
		Logger:     e.Logger,
	})
}

func (e *Engine) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil
	return err
}
