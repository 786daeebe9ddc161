package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"blogchat/internal/ai"
	appsvc "blogchat/internal/app"
	"blogchat/internal/cache"
	"blogchat/internal/chunker"
	"blogchat/internal/config"
	"blogchat/internal/model"
	"blogchat/internal/platform/logging"
	mysqlClient "blogchat/internal/platform/mysql"
	rabbitmqClient "blogchat/internal/platform/rabbitmq"
	redisClient "blogchat/internal/platform/redis"
	"blogchat/internal/repository"
	"blogchat/internal/store/memory"
	"blogchat/internal/vectorindex"
	memoryindex "blogchat/internal/vectorindex/memory"
	"blogchat/internal/vectorindex/qdrant"
	"blogchat/internal/worker"
)

type Services struct {
	Auth          *appsvc.AuthService
	Ingestion     *appsvc.IngestionService
	Chat          *appsvc.ChatService
	Conversations *appsvc.ConversationService
}

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	MySQL    *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Qdrant   *qdrant.Storage
	Services Services

	DeletionWorker *worker.VectorDeletionWorker

	StartedAt time.Time
}

type stores struct {
	users         appsvc.UserStore
	conversations appsvc.ConversationStore
	messages      appsvc.MessageStore
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	var historyCache appsvc.HistoryCache
	var turnLock appsvc.TurnLock
	if cfg.Redis.Addr != "" {
		a.Redis, err = redisClient.New(ctx, redisClient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		historyCache = cache.NewHistoryCache(
			a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
		turnLock = cache.NewTurnLock(a.Redis, cfg.RequestTimeout())
	} else {
		a.Logger.Warn("redis disabled: no history cache, no turn lock")
	}

	index, err := a.openIndex(ctx)
	if err != nil {
		return err
	}

	chatModel, err := ai.NewChatClient(ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.RequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("build chat client failed: %w", err)
	}
	embedder, err := ai.NewEmbeddingClient(ai.EmbeddingConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.EmbeddingModel,
		BatchSize:         cfg.LLM.EmbeddingBatchSize,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("build embedding client failed: %w", err)
	}

	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	upserter := vectorindex.NewUpserter(index,
		vectorindex.WithBatchSize(cfg.RAG.UpsertBatchSize),
		vectorindex.WithConcurrency(cfg.RAG.UpsertConcurrency),
	)

	var publisher appsvc.VectorDeletionPublisher
	if cfg.Deletion.Mode == appsvc.DeletionModeQueue {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		deletionPublisher := rabbitmqClient.NewDeletionPublisher(a.MQConn, cfg.RabbitMQ.DeletionQueue)
		publisher = deletionPublisher
		a.DeletionWorker = worker.NewVectorDeletionWorker(a.MQConn, index, deletionPublisher, worker.Options{
			Queue:         cfg.RabbitMQ.DeletionQueue,
			Consumers:     cfg.RabbitMQ.DeletionConsumers,
			MaxAttempts:   cfg.RabbitMQ.MaxAttempts,
			HandleTimeout: time.Duration(cfg.RabbitMQ.HandleTimeoutSeconds) * time.Second,
		}, a.Logger)
		if err := a.DeletionWorker.Start(ctx); err != nil {
			return fmt.Errorf("start vector deletion worker failed: %w", err)
		}
	}

	chain := appsvc.NewRetrievalChain(chatModel, embedder, index, cfg.RAG.TopK, a.Logger)
	a.Services = Services{
		Auth: appsvc.NewAuthService(
			st.users,
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		),
		Ingestion:     appsvc.NewIngestionService(st.conversations, splitter, embedder, index, upserter, a.Logger),
		Chat:          appsvc.NewChatService(st.conversations, st.messages, historyCache, turnLock, chain, cfg.RAG.HistoryWindow, a.Logger),
		Conversations: appsvc.NewConversationService(st.conversations, st.messages, historyCache, index, publisher, cfg.Deletion.Mode, a.Logger),
	}
	a.Logger.Info("application wired",
		zap.String("store", cfg.Store.Driver),
		zap.String("vector", cfg.Vector.Driver),
		zap.String("deletion", cfg.Deletion.Mode),
	)
	return nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.Config.Store.Driver == "memory" {
		a.Logger.Warn("using in-memory store, data is lost on restart")
		return stores{
			users:         memory.NewUserStore(),
			conversations: memory.NewConversationStore(),
			messages:      memory.NewMessageStore(),
		}, nil
	}

	db, err := mysqlClient.New(ctx, a.Config.MySQLDSN(), a.Config.App.GinMode == "debug")
	if err != nil {
		return stores{}, err
	}
	a.MySQL = db
	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}); err != nil {
		return stores{}, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return stores{
		users:         repository.NewUserRepository(db),
		conversations: repository.NewConversationRepository(db),
		messages:      repository.NewMessageRepository(db),
	}, nil
}

func (a *App) openIndex(ctx context.Context) (vectorindex.Index, error) {
	vc := a.Config.Vector
	if vc.Driver == "memory" {
		a.Logger.Warn("using in-memory vector index, vectors are lost on restart")
		return memoryindex.New(vc.Dimension), nil
	}
	storage, err := qdrant.NewStorage(qdrant.Config{URL: vc.URL, APIKey: vc.APIKey, Collection: vc.Collection})
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureCollection(ctx, vc.Dimension); err != nil {
		return nil, fmt.Errorf("ensure qdrant collection failed: %w", err)
	}
	a.Qdrant = storage
	return storage, nil
}

// HealthChecks returns a health check per configured dependency.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	if a.Qdrant != nil {
		checks["qdrant"] = a.Qdrant.Ping
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.DeletionWorker != nil {
		a.DeletionWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
