package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Clawboard/internal/config"
	"Clawboard/internal/core"
	"Clawboard/internal/ingestion"
	"Clawboard/internal/observability"
	"Clawboard/internal/persistence"
	"Clawboard/internal/projection"
	"Clawboard/internal/query"
	"Clawboard/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// genesisTime stamps the bootstrap SetVault so its hash is reproducible.
var genesisTime = time.Unix(0, 0).UTC()

func main() {
	cfg, err := config.Load(os.Getenv("CLAW_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("Clawboard starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Clawboard stopped")
	}
	logger.Info().Msg("Clawboard shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Storage.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	healthChecker.AddProbe("postgres", db.PingContext)
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Storage.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Tier-2 idempotency ---
	var tier2 core.Tier2Checker
	switch cfg.Idempotency.Tier2 {
	case config.Tier2Postgres:
		tier2 = persistence.NewPostgresIdempotencyChecker(db)
	case config.Tier2Redis:
		rc := cfg.Redis()
		rc.KeyPrefix = "clawboard:req:"
		redisChecker, err := persistence.NewRedisIdempotencyChecker(rc)
		if err != nil {
			return fmt.Errorf("redis idempotency: %w", err)
		}
		defer redisChecker.Close()
		healthChecker.AddProbe("redis", redisChecker.Ping)
		tier2 = redisChecker
	}

	// --- Engine ---
	// The persist channel blocks (backpressure); the publish channel drops.
	persistChan := make(chan core.CoreOutput, cfg.Persistence.PersistChanSize)
	var publishChan chan core.CoreOutput
	if cfg.Transport.Publisher != config.PublisherNone || cfg.Persistence.Projection {
		publishChan = make(chan core.CoreOutput, cfg.Persistence.PublishChanSize)
	}

	engine := core.NewEngine(cfg.Engine(), persistChan, sendOnly(publishChan), tier2, metrics, observability.NewLogger("core"))

	head, err := persistence.NewLoader(db, metrics, observability.NewLogger("recovery")).
		Recover(ctx, engine, cfg.Idempotency.RecentOnRestart)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	if snap, err := snapMgr.LoadLatestSnapshot(ctx); err != nil {
		logger.Warn().Err(err).Msg("load latest snapshot failed")
	} else if snap != nil {
		if err := snap.Verify(); err != nil {
			logger.Warn().Err(err).Msg("latest snapshot failed verification")
		} else {
			logger.Info().Int64("snapshot_sequence", snap.Sequence).Int64("head", head.Sequence).Msg("latest snapshot verified")
		}
	}

	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistWorker := persistence.NewWorker(db, persistChan, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout,
		metrics, observability.NewLogger("persistence"))
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	if err := ensureVault(ctx, engine, cfg, logger); err != nil {
		return err
	}

	// --- NATS ---
	var (
		nc *nats.Conn
		js jetstream.JetStream
	)
	if cfg.Transport.Subscribe || cfg.Transport.Publisher == config.PublisherNATS {
		nc, js, err = ingestion.ConnectNATS(cfg.Transport.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		healthChecker.AddProbe("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New(nc.Status().String())
			}
			return nil
		})
	}

	// 2. Outbound publisher and tip projection
	if publishChan != nil {
		var publishers []ingestion.Publisher
		switch cfg.Transport.Publisher {
		case config.PublisherNATS:
			if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
				return fmt.Errorf("ensure outbound stream: %w", err)
			}
			publishers = append(publishers, ingestion.NewJetStreamPublisher(js))
		case config.PublisherAMQP:
			amqpPublisher, err := ingestion.NewAMQPPublisher(cfg.AMQP())
			if err != nil {
				return fmt.Errorf("amqp publisher: %w", err)
			}
			defer amqpPublisher.Close()
			healthChecker.AddProbe("amqp", amqpPublisher.Ping)
			publishers = append(publishers, amqpPublisher)
		}
		if cfg.Persistence.Projection {
			projector := projection.NewTipProjector(db, observability.NewLogger("projection"))
			if stale, err := projector.Stale(ctx); err != nil {
				return fmt.Errorf("check tip projection: %w", err)
			} else if stale {
				if _, err := projector.Rebuild(ctx); err != nil {
					return fmt.Errorf("rebuild tip projection: %w", err)
				}
			}
			publishers = append(publishers, projector)
		}
		outbound := ingestion.NewOutboundPublisher(publishChan, metrics, observability.NewLogger("publisher"), publishers...)
		go func() {
			errChan <- outbound.Run(ctx)
		}()
	}

	// 3. NATS command subscriber + ingest loop
	var subscriber *ingestion.CommandSubscriber
	if cfg.Transport.Subscribe {
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		rawChan := make(chan ingestion.RawCommand, cfg.Persistence.IngestChanSize)
		subscriber = ingestion.NewCommandSubscriber(js, rawChan, observability.NewLogger("nats"))
		if err := subscriber.Subscribe(ctx); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		loop := ingestion.NewIngestLoop(engine, rawChan, metrics, observability.NewLogger("ingest"))
		go func() {
			errChan <- loop.Run(ctx)
		}()
	}

	// 4. gRPC + HTTP gateway
	takeSnapshot := func(ctx context.Context) (int64, error) {
		return saveSnapshot(ctx, engine, snapMgr, metrics)
	}
	svc := server.NewClawboardService(
		query.NewService(engine, db, metrics),
		ingestion.NewSubmitter(engine, metrics, observability.NewLogger("submit")),
		takeSnapshot,
	)
	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Service:         svc,
		HealthChecker:   healthChecker,
		GatewayCommands: cfg.Server.GatewayCommands,
		Logger:          observability.NewLogger("server"),
	})
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTPGateway(ctx)
	}()

	// 5. Periodic snapshots
	go runPeriodicSnapshots(ctx, engine, snapMgr, cfg.Persistence, metrics, observability.NewLogger("snapshot"))

	// 6. Prometheus metrics server
	go func() {
		if err := serveMetrics(ctx, cfg.Server.MetricsAddr, logger); err != nil {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", engine.Head().Sequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("Clawboard ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// Stop intake first, then drain persistence before the final snapshot.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	engine.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		return errors.New("persistence worker did not drain before shutdown timeout")
	}

	if seq, err := saveSnapshot(shutdownCtx, engine, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}
	return nil
}

// ensureVault registers the configured vault as minter on a fresh ledger.
// The request id is derived from the vault address so a restart that
// races the first persist is still deduplicated.
func ensureVault(ctx context.Context, engine *core.Engine, cfg config.Config, logger zerolog.Logger) error {
	vaultAddr := common.HexToAddress(cfg.Token.Vault)
	if current := engine.TokenInfo().Vault; current != (common.Address{}) {
		if current != vaultAddr {
			logger.Warn().Str("ledger_vault", current.Hex()).Str("configured", vaultAddr.Hex()).
				Msg("ledger vault differs from configuration; keeping ledger value")
		}
		return nil
	}

	res, err := engine.Execute(ctx, &core.SetVault{
		Meta: core.Meta{
			RequestID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("clawboard/genesis/set-vault/"+vaultAddr.Hex())),
			Sender:    common.HexToAddress(cfg.Token.Owner),
			Timestamp: genesisTime,
		},
		Vault: vaultAddr,
	})
	if err != nil {
		return fmt.Errorf("genesis set vault: %w", err)
	}
	logger.Info().Int64("sequence", res.Sequence).Str("vault", vaultAddr.Hex()).Msg("vault registered")
	return nil
}

// runPeriodicSnapshots takes a snapshot every SnapshotInterval commands.
func runPeriodicSnapshots(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	cfg config.PersistenceConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 100_000
	}
	check := cfg.SnapshotCheck
	if check <= 0 {
		check = 10 * time.Second
	}

	lastSnapshotSeq := engine.Head().Sequence
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if engine.Head().Sequence-lastSnapshotSeq < interval {
				continue
			}
			seq, err := saveSnapshot(ctx, engine, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = seq
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

func saveSnapshot(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	seq, err := snapMgr.SaveSnapshot(ctx, engine, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(seq))
	return seq, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// sendOnly keeps a nil channel nil so the engine skips publishing.
func sendOnly(ch chan core.CoreOutput) chan<- core.CoreOutput {
	if ch == nil {
		return nil
	}
	return ch
}
