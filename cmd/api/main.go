package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"jobflow/auth"
	"jobflow/commission"
	"jobflow/config"
	"jobflow/contractor"
	"jobflow/db"
	"jobflow/dispute"
	"jobflow/httpapi"
	"jobflow/job"
	"jobflow/ledger"
	"jobflow/notify"
	"jobflow/payment"
	"jobflow/scheduler"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if cfg.Server.Env == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.Database.URL); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	outbox := notify.NewOutbox()
	notifyRepo := notify.NewRepository(pool)

	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool))
	commissionSvc := commission.NewService(pool, commission.NewRepository(pool), outbox, cfg.Billing)
	jobSvc := job.NewService(pool, job.NewRepository(pool), ledgerSvc, commissionSvc, outbox, cfg.Jobs)
	disputeEngine := dispute.NewEngine(pool, dispute.NewRepository(pool), job.NewRepository(pool), ledgerSvc, commissionSvc, outbox)

	var gateway payment.Gateway
	if cfg.Billing.GatewayURL != "" {
		gateway = payment.NewHTTPGateway(cfg.Billing.GatewayURL)
	}
	paymentRepo := payment.NewRepository(pool)
	paymentSvc := payment.NewService(pool, paymentRepo, ledgerSvc, commissionSvc, outbox, gateway, log)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	contractorSvc := contractor.NewService(contractor.NewRepository(pool), cfg.Billing)

	handlers := httpapi.NewHandlers(log, authSvc, jobSvc, disputeEngine, ledgerSvc, commissionSvc,
		paymentSvc, contractorSvc, notifyRepo)
	router := httpapi.NewRouter(log, handlers, httpapi.NewAuth(authSvc), httpapi.NewRateLimit(redisClient, 0))

	sched := scheduler.New(jobSvc, job.NewRepository(pool), notifyRepo, commissionSvc,
		ledgerSvc, paymentRepo, log, *cfg)
	relay := notify.NewWorker(pool, notifyRepo, log, cfg.Scheduler.OutboxInterval)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := sched.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := relay.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}
