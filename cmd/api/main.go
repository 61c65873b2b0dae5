package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/eramirez/carbid/internal/adapters/api"
	"github.com/eramirez/carbid/internal/adapters/database"
	infraevents "github.com/eramirez/carbid/internal/adapters/events"
	"github.com/eramirez/carbid/internal/config"
	"github.com/eramirez/carbid/internal/domain/bids"
	"github.com/eramirez/carbid/internal/domain/items"
	"github.com/eramirez/carbid/internal/domain/users"
	"github.com/eramirez/carbid/internal/metrics"
	"github.com/eramirez/carbid/internal/migrations"
	"github.com/eramirez/carbid/internal/rates"
	"github.com/eramirez/carbid/internal/storage"
	"github.com/eramirez/carbid/pkg/auth"
	pkgdatabase "github.com/eramirez/carbid/pkg/database"
	"github.com/eramirez/carbid/pkg/events"
	"github.com/eramirez/carbid/pkg/mail"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer amqpConn.Close()

	publisher, err := infraevents.NewRabbitMQPublisher(amqpConn)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer publisher.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	signer, err := auth.NewSigner([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	if err != nil {
		return fmt.Errorf("failed to create token signer: %w", err)
	}

	imageStore, err := storage.NewDiskImageStore(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	txManager := pkgdatabase.NewPostgresTransactionManager(pool, 3*time.Second)
	userRepo := database.NewPostgresUserRepository(pool)
	bidRepo := database.NewPostgresBidRepository(pool)
	itemRepo := database.NewPostgresItemRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	var mailer mail.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	} else {
		logger.Warn("no SMTP host configured, recovery mails go to the log")
		mailer = &mail.LogMailer{Logger: logger}
	}

	userService := users.NewService(userRepo, outboxRepo, txManager, signer, mailer, users.Config{
		AccessTokenTTL:   cfg.AccessTokenTTL,
		MFATokenTTL:      cfg.MFATokenTTL,
		RecoveryTokenTTL: cfg.RecoveryTokenTTL,
		TOTPIssuer:       cfg.TokenIssuer,
	})
	bidEngine := bids.NewEngine(txManager, bidRepo, userService, outboxRepo)
	itemService := items.NewService(itemRepo, imageStore)

	rateProvider := rates.NewCachedProvider(
		rates.NewHTTPProvider(cfg.RateProviderURL),
		redisClient,
		cfg.RatePollInterval,
		logger,
	)
	rateHub := rates.NewHub(rateProvider, cfg.RatePollInterval, allowOrigin(cfg.CORSOrigins), logger)

	relay := events.NewOutboxRelay(
		outboxRepo, publisher, txManager,
		cfg.OutboxBatchSize, cfg.OutboxInterval,
		infraevents.Exchange, logger,
	)

	handler := api.NewHandler(logger, bidEngine, userService, itemService, imageStore, signer, cfg.PublicBaseURL)

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("GET /ws/rates", rateHub)
	mux.Handle("GET "+storage.PublicPrefix+"/", http.StripPrefix(storage.PublicPrefix+"/", http.FileServer(http.Dir(imageStore.Root()))))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	corsware := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsware.Handler(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsAddr, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server listening", "addr", cfg.HTTPAddr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("outbox relay started", "interval", cfg.OutboxInterval.String())
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func allowOrigin(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimSuffix(origin, "/")]
		return ok
	}
}
