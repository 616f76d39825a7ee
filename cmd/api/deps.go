package main

import (
	"context"
	"fmt"

	"finsight/internal/domain/account"
	"finsight/internal/domain/notification"
	"finsight/internal/domain/openfinance"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
	"finsight/internal/domain/user"
	"finsight/internal/infrastructure/firebase"
	"finsight/internal/infrastructure/postgres"
	"finsight/internal/infrastructure/postgres/listener"
	"finsight/internal/infrastructure/saltedge"
	httphandlers "finsight/internal/interfaces/http"
	"finsight/internal/interfaces/scheduler"
	"finsight/internal/shared/auth"
	"finsight/internal/shared/config"
	"finsight/internal/shared/messages"

	"github.com/rs/zerolog/log"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	SaltEdgeHandler     *httphandlers.SaltEdgeHandler
	StatusHandler       *httphandlers.StatusHandler
	BankingHandler      *httphandlers.BankingHandler
	NotificationHandler *httphandlers.NotificationHandler
	UserHandler         *httphandlers.UserHandler
	HealthHandler       *httphandlers.HealthHandler

	// Auth
	JWT *auth.JWT

	// Background sync
	WorkerPool   *scheduler.WorkerPool
	SyncListener *listener.SyncListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if err := postgres.RunMigrations(cfg.Database.URL()); err != nil {
		return nil, err
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	customerRepo := postgres.NewCustomerRepository(db)
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	syncLogRepo := postgres.NewSyncLogRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Initialize domain services
	userService := user.NewService(userRepo)
	accountService := account.NewService(accountRepo)
	transactionService := transaction.NewService(transactionRepo)
	syncLogService := synclog.NewService(syncLogRepo)

	// Aggregator client
	client, err := saltedge.NewClient(saltedge.Config{
		AppID:       cfg.SaltEdge.AppID,
		Secret:      cfg.SaltEdge.Secret,
		BaseURL:     cfg.SaltEdge.BaseURL,
		PrivateKey:  cfg.SaltEdge.PrivateKey,
		Mode:        cfg.SaltEdge.Mode,
		Timeout:     cfg.SaltEdge.Timeout,
		CustomerTTL: cfg.SaltEdge.CustomerTTL,
		Breaker: saltedge.BreakerSettings{
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
		},
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	verifier, err := saltedge.NewWebhookVerifier(cfg.Webhook.PublicKey, cfg.Webhook.Strict)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !verifier.Configured() {
		log.Warn().Msg("SALTEDGE_PUBLIC_KEY not set, webhook signatures are not verified")
	}

	// Push notifications are optional
	texts := messages.Default()
	if cfg.Firebase.MessagesFile != "" {
		if loaded, err := messages.Load(cfg.Firebase.MessagesFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.Firebase.MessagesFile).Msg("using built-in notification messages")
		} else {
			texts = *loaded
		}
	}

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			log.Warn().Err(err).Msg("firebase unavailable, push notifications disabled")
		} else {
			messenger = fcm
			log.Info().Msg("firebase messaging initialized")
		}
	} else {
		log.Info().Msg("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
	}
	notificationService := notification.NewService(notificationRepo, messenger, texts)

	// Connection lifecycle
	engine := openfinance.NewSyncEngine(client, customerRepo, connectionRepo, accountService, transactionService, syncLogService)
	manager := openfinance.NewManager(
		client,
		userService,
		customerRepo,
		connectionRepo,
		engine,
		syncLogService,
		notificationService,
		client.Quota(),
		openfinance.SessionConfig{
			CallbackURL: cfg.CallbackURL(),
			Locale:      cfg.SaltEdge.Locale,
			Country:     cfg.SaltEdge.Country,
		},
	)
	dashboard := openfinance.NewDashboard(userService, customerRepo, connectionRepo, accountService, transactionService, syncLogService)

	// Webhook syncs run on the worker pool
	pool := scheduler.NewWorkerPool(scheduler.PoolConfig{
		Workers:    cfg.Worker.Count,
		QueueSize:  cfg.Worker.QueueSize,
		JobDelay:   cfg.Worker.JobDelay,
		JobTimeout: cfg.Worker.JobTimeout,
	})
	dispatcher := scheduler.NewSyncDispatcher(pool, manager, scheduler.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.RetryBaseDelay,
	})
	manager.SetDispatcher(dispatcher)
	syncListener := listener.NewSyncListener(cfg.Database.ConnectionString(), dispatcher)

	responder := httphandlers.NewResponder(cfg.Server.Environment)

	return &Dependencies{
		DB:                  db,
		SaltEdgeHandler:     httphandlers.NewSaltEdgeHandler(manager, client, verifier, cfg.DashboardURL(), responder),
		StatusHandler:       httphandlers.NewStatusHandler(client, cfg.Server.Environment, responder),
		BankingHandler:      httphandlers.NewBankingHandler(dashboard, responder),
		NotificationHandler: httphandlers.NewNotificationHandler(notificationService, userService, responder),
		UserHandler:         httphandlers.NewUserHandler(userService, responder),
		HealthHandler:       httphandlers.NewHealthHandler(db),
		JWT:                 auth.NewJWT(cfg.JWT.Secret),
		WorkerPool:          pool,
		SyncListener:        syncListener,
	}, nil
}

// Start launches the background workers.
func (d *Dependencies) Start(ctx context.Context) {
	d.WorkerPool.Start()
	d.SyncListener.Start(ctx)
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() error {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
