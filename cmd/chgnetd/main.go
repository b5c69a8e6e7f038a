package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chgnet/config"
	"chgnet/indexer"
	"chgnet/ledger"
	"chgnet/native/epoch"
	"chgnet/native/oracle"
	"chgnet/observability"
	"chgnet/observability/logging"
	"chgnet/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chgnetd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "chgnetd.yaml", "path to chgnetd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Service, cfg.Environment, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(dialectorFor(cfg.Database), storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	allowlist := oracle.NewAllowlist(cfg.AllowlistAddresses()...)
	persisted, err := store.AllowedOracles(ctx)
	if err != nil {
		return fmt.Errorf("load persisted allowlist: %w", err)
	}
	for _, signer := range persisted {
		allowlist.Add(signer)
	}

	owner := cfg.OwnerAddress()
	engine, err := epoch.NewEngine(epoch.Schedule{
		Epoch0Start:   cfg.Epoch.Epoch0Start,
		EpochDuration: cfg.Epoch.Duration.Duration,
		GracePeriod:   cfg.Epoch.GracePeriod.Duration,
	}, store, allowlist,
		epoch.WithLogger(logger),
		epoch.WithOwnerCheck(func(caller [20]byte) bool {
			return owner != [20]byte{} && caller == owner
		}),
	)
	if err != nil {
		return err
	}

	applier, err := indexer.NewApplier(store, engine, indexer.WithApplierLogger(logger))
	if err != nil {
		return err
	}

	client, err := ledger.Dial(ctx, cfg.Ledger.Endpoint, cfg.Ledger.CallTimeout.Duration)
	if err != nil {
		return err
	}
	defer client.Close()

	bindings := make([]indexer.ContractBinding, 0, len(cfg.Contracts))
	for name := range cfg.Contracts {
		address, _ := cfg.ContractAddress(name)
		bindings = append(bindings, indexer.ContractBinding{Name: name, Address: address})
	}
	manager, err := indexer.NewManager(client, applier, store, bindings,
		cfg.Indexer.PollInterval.Duration,
		indexer.WithManagerLogger(logger),
		indexer.WithMaxBlockRange(cfg.Indexer.MaxBlockRange),
	)
	if err != nil {
		return err
	}
	finalizer, err := indexer.NewFinalizer(engine, store, time.Minute,
		indexer.WithFinalizerLogger(logger))
	if err != nil {
		return err
	}

	observability.Indexer().Register(prometheus.DefaultRegisterer)
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http listener started", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	indexerDone := make(chan error, 1)
	go func() { indexerDone <- manager.Run(ctx) }()
	finalizerDone := make(chan error, 1)
	go func() { finalizerDone <- finalizer.Run(ctx) }()

	indexerStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErr:
		stop()
		<-indexerDone
		return fmt.Errorf("http listener: %w", err)
	case err := <-indexerDone:
		indexerStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("indexer: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if !indexerStopped {
		<-indexerDone
	}
	<-finalizerDone
	logger.Info("chgnetd stopped")
	return nil
}

func dialectorFor(db config.DatabaseConfig) gorm.Dialector {
	if db.Driver == "sqlite" {
		return sqlite.Open(db.DSN)
	}
	return postgres.Open(db.DSN)
}
