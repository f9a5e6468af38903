package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/updownbot/params"
	"github.com/uhyunpark/updownbot/pkg/api"
	"github.com/uhyunpark/updownbot/pkg/audit"
	"github.com/uhyunpark/updownbot/pkg/coordinator"
	"github.com/uhyunpark/updownbot/pkg/crypto"
	"github.com/uhyunpark/updownbot/pkg/dedup"
	"github.com/uhyunpark/updownbot/pkg/exchange"
	"github.com/uhyunpark/updownbot/pkg/guard"
	"github.com/uhyunpark/updownbot/pkg/rules"
	"github.com/uhyunpark/updownbot/pkg/storage"
	"github.com/uhyunpark/updownbot/pkg/stream"
	"github.com/uhyunpark/updownbot/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("agent_failed", "err", err)
	}
	sugar.Infow("agent_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Wallet ----
	signer, err := loadSigner(cfg, sugar)
	if err != nil {
		return err
	}

	// ---- Storage ----
	db, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	store := storage.NewOrderStore(db, signer.Funder())
	decisions := storage.DecisionLog{DB: db, Logger: sugar}

	// ---- Exchange ----
	rest := exchange.NewRESTClient(cfg.Exchange.Host, cfg.Exchange.RateLimit, signer, exchange.Credentials{
		Key:        cfg.Exchange.APIKey,
		Secret:     cfg.Exchange.APISecret,
		Passphrase: cfg.Exchange.APIPassphrase,
	}, sugar)

	var venue exchange.Exchange
	switch cfg.Exchange.Mode {
	case "live":
		if rest.Creds.Empty() {
			if _, err := rest.DeriveAPIKey(ctx); err != nil {
				return err
			}
			sugar.Infow("api_key_derived", "address", signer.Address().Hex())
		}
		venue = rest
	default:
		venue = exchange.NewPaper(rest, cfg.Exchange.PaperFillAfter)
	}

	// ---- Audit sinks ----
	auditFile, err := audit.NewFileSink(cfg.Node.AuditFile, sugar)
	if err != nil {
		return err
	}
	defer auditFile.Close()

	loc := cfg.Location()

	// The API server is both a sink and a view over the coordinator
	var apiServer *api.Server
	broadcast := audit.SinkFunc(func(rec audit.Record) { apiServer.Emit(rec) })

	// ---- Coordinator ----
	coord := coordinator.New(coordinator.Deps{
		Cache: dedup.New(cfg.Coordinator.CacheCapacity),
		Guard: guard.New(),
		Store: store,
		Evaluator: &rules.Evaluator{
			Books:          venue,
			BidFloor:       cfg.Trading.BidFloor,
			SellThreshold:  cfg.Trading.SellThreshold,
			StopLossMinute: cfg.Trading.StopLossMinute,
			Logger:         sugar,
		},
		Matcher:  rules.NewMatcher(cfg.Trading.Instructions, loc),
		Exchange: venue,
		Sink:     audit.Multi{auditFile, decisions, audit.LogSink{Logger: sugar}, broadcast},
		Clock:    util.RealClock{},
		Logger:   sugar,
	}, coordinator.Config{
		ProcessingGrace:    cfg.Coordinator.ProcessingGrace,
		CleanupInterval:    cfg.Coordinator.CleanupInterval,
		StatusPollInterval: cfg.Coordinator.StatusPollInterval,
		HourlyRollover:     cfg.Coordinator.HourlyRollover,
	})

	// ---- Stream ----
	feed := stream.NewClient(stream.Config{
		URL:           cfg.Stream.URL,
		PingInterval:  cfg.Stream.PingInterval,
		AutoReconnect: cfg.Stream.AutoReconnect,
		MaxAttempts:   cfg.Stream.MaxReconnects,
		BaseDelay:     cfg.Stream.BackoffBase,
		MaxDelay:      cfg.Stream.BackoffMax,
	}, util.RealClock{}, sugar)

	// ---- API Server ----
	apiServer = api.NewServer(coord, decisions, api.Options{
		Mode:           cfg.Exchange.Mode,
		Wallet:         signer.Funder().Hex(),
		AllowedOrigins: cfg.Node.AllowedOrigins,
		Feed:           feed.Status,
	}, sugar)

	// Restore claims from persisted records before any event is handled
	if _, err := coord.Reload(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	fatal := make(chan error, 1)

	sub := stream.Subscription{Topic: cfg.Stream.Topic, Type: cfg.Stream.Type}
	feed.OnConnect = func() {
		if err := feed.Subscribe(sub); err != nil {
			sugar.Errorw("subscribe_failed", "topic", sub.Topic, "type", sub.Type, "err", err)
			return
		}
		sugar.Infow("subscribed", "topic", sub.Topic, "type", sub.Type)
	}
	feed.OnMessage = func(msg stream.Message) { coord.Dispatch(gctx, msg) }
	feed.OnStatusChange = apiServer.BroadcastFeed
	feed.OnFatal = func(attempts int) {
		select {
		case fatal <- errors.New("stream reconnect attempts exhausted, restart required"):
		default:
		}
	}
	coord.OnRollover = func() {
		if err := feed.Connect(gctx); err != nil {
			sugar.Warnw("rollover_reconnect_failed", "err", err)
		}
	}

	g.Go(func() error { return apiServer.Start(gctx, cfg.Node.APIAddr) })
	g.Go(func() error { return coord.RunMaintenance(gctx) })
	g.Go(func() error {
		if err := feed.Connect(gctx); err != nil {
			sugar.Warnw("initial_connect_failed", "err", err)
		}
		select {
		case <-gctx.Done():
			return nil
		case err := <-fatal:
			return err
		}
	})

	sugar.Infow("agent_starting",
		"mode", cfg.Exchange.Mode,
		"wallet", signer.Funder().Hex(),
		"instructions", len(cfg.Trading.Instructions),
		"timezone", loc.String(),
		"api_addr", cfg.Node.APIAddr)

	err = g.Wait()
	feed.Disconnect()
	// In-flight pipelines finish before the store closes
	coord.Wait()
	return err
}

func loadSigner(cfg params.Config, sugar *zap.SugaredLogger) (*crypto.Signer, error) {
	if cfg.Wallet.PrivateKey == "" {
		// Paper mode only; Validate requires PK in live mode
		signer, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		sugar.Warnw("ephemeral_wallet", "address", signer.Address().Hex())
		return signer, nil
	}
	signer, err := crypto.FromPrivateKeyHex(cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, err
	}
	return signer.WithFunder(cfg.Wallet.ProxyAddress), nil
}
