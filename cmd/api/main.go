package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rotasave.org/internal/audit"
	"rotasave.org/internal/auth"
	"rotasave.org/internal/config"
	"rotasave.org/internal/httpapi"
	"rotasave.org/internal/ledger"
	"rotasave.org/internal/ledger/remote"
	"rotasave.org/internal/migrate"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
	"rotasave.org/internal/store/memory"
	"rotasave.org/internal/store/pg"
	"rotasave.org/internal/store/sqlite"
	"rotasave.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is an opened store plus its readiness check and closer.
type backend struct {
	store rosca.Store
	ping  httpapi.Pinger
	close func() error
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("rotasave-api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.SetupLogging(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	led, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	policy, ok := rosca.PolicyByName(cfg.AdvancePolicy)
	if !ok {
		return fmt.Errorf("unknown advance policy %q", cfg.AdvancePolicy)
	}

	events := stream.New()
	engine := rosca.NewEngine(be.store,
		rosca.WithTransferer(ledger.NewPayments(led)),
		rosca.WithEventSink(rosca.MultiSink{events, audit.Sink{}, obs.MetricsSink{}}),
		rosca.WithAdvancePolicy(policy),
		rosca.WithCurrency(cfg.Currency),
		rosca.WithLogger(logger),
	)

	opts := []httpapi.Option{
		httpapi.WithLedger(led),
		httpapi.WithStream(events),
		httpapi.WithRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithCurrency(cfg.Currency),
	}
	if cfg.AuthEnabled() {
		iss, err := auth.NewIssuer(cfg.AuthSecret)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithIssuer(iss, cfg.TokenTTL))
	} else {
		logger.Warn("authentication disabled; requests name their own principal")
	}

	check := httpapi.ReadyCheck{Store: be.ping}
	api := httpapi.New(check, version, engine, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)

	var grpcSrv *httpapi.GRPCServer
	if cfg.LedgerGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.LedgerGRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv = httpapi.NewGRPCServer(check, led)
		go grpcSrv.WatchReadiness(ctx, 10*time.Second)
		go func() {
			logger.Info("ledger grpc listening", "addr", cfg.LedgerGRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("starting rotasave-api", "version", version, "addr", srv.Addr, "store", cfg.Store, "policy", cfg.AdvancePolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	logger.Info("stopped")
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return backend{}, err
		}
		return backend{store: s, ping: s, close: s.Close}, nil
	case config.StorePostgres:
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return backend{}, err
		}
		if cfg.AutoMigrate {
			applied, err := migrate.NewManager(s.DB(), pg.Migrations, pg.MigrationsDir).Up(ctx)
			if err != nil {
				s.Close()
				return backend{}, fmt.Errorf("migrate: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "files", applied)
			}
		}
		return backend{store: s, ping: s, close: s.Close}, nil
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		s := memory.New()
		return backend{store: s, ping: s, close: s.Close}, nil
	}
}

// openLedger returns the in-process ledger, or a gRPC client when a remote
// ledger address is configured.
func openLedger(cfg config.Config, logger *slog.Logger) (ledger.Service, func(), error) {
	if cfg.LedgerAddr == "" {
		if cfg.Durable() {
			logger.Warn("in-process ledger next to a durable store; balances are lost on restart while group records persist", "store", cfg.Store)
		}
		return ledger.NewInMemory(), func() {}, nil
	}
	client, err := remote.Dial(cfg.LedgerAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger: %w", err)
	}
	logger.Info("using remote ledger", "addr", cfg.LedgerAddr)
	return remote.NewService(client), func() { _ = client.Close() }, nil
}
