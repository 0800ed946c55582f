package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stakepool/core/events"
	"stakepool/integrations/webhooks"
	"stakepool/ledger"
	"stakepool/native/common"
	"stakepool/native/stakepool"
	"stakepool/observability"
	"stakepool/observability/logging"
	telemetry "stakepool/observability/otel"
	"stakepool/services/stakingd/config"
	"stakepool/services/stakingd/middleware"
	"stakepool/services/stakingd/server"
	"stakepool/storage"
	"stakepool/storage/stakestore"
)

// ledgerBackend is the accessor plus whatever the daemon needs to bootstrap
// and release it.
type ledgerBackend interface {
	stakepool.Ledger
	ledger.Funder
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "stakingd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("stakingd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
			ServiceName: "stakingd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		}))
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if shutdownTelemetry != nil {
				_ = shutdownTelemetry(context.Background())
			}
		}()
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	engine, err := stakepool.NewEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	pauses := common.NewPauses()
	if cfg.Pool.Paused {
		pauses.Pause(stakepool.ModuleName, "paused by configuration")
	}
	engine.SetPauses(pauses)

	acc, ledgerCloser, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer ledgerCloser.Close()

	db, err := openState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	store := stakestore.New(db)

	if err := applyGenesis(cfg, acc, store, logger); err != nil {
		return err
	}

	metrics := observability.Stake()
	bus := events.NewBus(cfg.Events.History)
	service, err := server.New(server.Options{
		Engine:  engine,
		Ledger:  acc,
		Store:   store,
		Bus:     bus,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  telemetry.Tracer("stakingd"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if hook := cfg.Events.Webhook; hook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(hook.URL, []byte(hook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithRetryPolicy(hook.MaxAttempts, hook.MinBackoff, hook.MaxBackoff))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		defer dispatcher.Close()
		go dispatcher.Forward(ctx, bus)
		logger.Info("forwarding events to webhook", "url", hook.URL)
	}

	var authn *middleware.Authenticator
	if cfg.Auth.Enabled() {
		authn = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger)
	}
	handler := server.NewRouter(server.RouterConfig{
		Service:       service,
		Logger:        logger,
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		Authenticator: authn,
		RateLimiter:   middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Observability: middleware.NewObservability(prometheus.DefaultRegisterer, logger, cfg.Logging.Level == "debug"),
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	tlsCfg, err := loadTLS(cfg.TLS)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}
	if tlsCfg == nil {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext stakingd mode is restricted to loopback listeners or dev environment")
		}
		logger.Warn("serving without TLS", "addr", listener.Addr().String())
	} else {
		listener = tls.NewListener(listener, tlsCfg)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stakingd listening",
			"addr", cfg.ListenAddress,
			"pool", service.PoolAddress().String(),
			"custody", service.CustodyAddress().String(),
			"ledger", cfg.Ledger.Driver)
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func openLedger(cfg config.Config, logger *slog.Logger) (ledgerBackend, io.Closer, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerMemory:
		logger.Warn("using in-memory ledger; balances and pool state reset on restart")
		return ledger.NewMemory(ledger.SystemClock{}), nopCloser{}, nil
	default:
		sqlLedger, err := ledger.OpenSQL(cfg.Ledger.Driver, cfg.Ledger.DSN, ledger.SystemClock{})
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger: %w", err)
		}
		logger.Info("ledger opened", "driver", cfg.Ledger.Driver, "dsn", logging.RedactDSN(cfg.Ledger.DSN))
		return sqlLedger, sqlLedger, nil
	}
}

// openState keeps engine state next to the ledger it describes. A memory
// ledger gets a memory store so the two always restart together.
func openState(cfg config.Config) (storage.Database, error) {
	if cfg.Ledger.Driver == config.LedgerMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

func applyGenesis(cfg config.Config, acc ledgerBackend, store *stakestore.Store, logger *slog.Logger) error {
	if cfg.Ledger.Genesis == "" {
		return nil
	}
	applied, err := store.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		logger.Info("genesis already applied", "file", cfg.Ledger.Genesis)
		return nil
	}
	genesis, err := ledger.LoadGenesis(cfg.Ledger.Genesis)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := genesis.Apply(ctx, acc); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if err := store.MarkGenesisApplied(acc.Now()); err != nil {
		return err
	}
	logger.Info("genesis applied", "file", cfg.Ledger.Genesis, "accounts", len(genesis.Alloc))
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func loadTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}, nil
}
