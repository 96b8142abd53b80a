// Guardrail - Safety-first trading control plane
//
// Every trade proposal passes an independent risk veto before the single
// execution gateway may touch a broker. Mode transitions, risk decisions,
// settings changes and fills are immutably auditable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/guardrail/internal/api"
	"github.com/web3guy0/guardrail/internal/auth"
	"github.com/web3guy0/guardrail/internal/broker"
	"github.com/web3guy0/guardrail/internal/config"
	"github.com/web3guy0/guardrail/internal/coordinator"
	"github.com/web3guy0/guardrail/internal/execution"
	"github.com/web3guy0/guardrail/internal/feedback"
	"github.com/web3guy0/guardrail/internal/feeds"
	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/notify"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/strategy"
	"github.com/web3guy0/guardrail/internal/types"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// The hard caps are the whole point of this process. Refuse to trade
	// on a binary built with unsafe constants.
	if err := limits.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Hard limit validation failed")
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Strs("symbols", cfg.FeedSymbols).
		Msg("🛡️ Guardrail control plane starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== PERSISTENCE ======

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	// Redis backs the token blacklist and rate limits when configured;
	// the in-memory fallbacks cover single-process deployments.
	var blacklist auth.Blacklist = auth.NewMemoryBlacklist()
	var limiter auth.RateLimiter = auth.NewMemoryRateLimiter()
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			log.Fatal().Err(perr).Msg("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		if perr := rdb.Ping(ctx).Err(); perr != nil {
			log.Fatal().Err(perr).Msg("Redis unreachable")
		}
		blacklist = auth.NewRedisBlacklist(rdb)
		limiter = auth.NewRedisRateLimiter(rdb)
		log.Info().Msg("🧰 Redis connected")
	}

	// ====== CORE COMPONENTS ======

	settingsSvc := settings.New(store)
	monitor := risk.NewMonitor(store, cfg.InitialBalance)
	validator := risk.NewValidator(store, settingsSvc, monitor)
	jw := journal.NewWriter(store)
	analyzer := journal.NewAnalyzer(store)

	engine := execution.NewEngine(store, settingsSvc, monitor, jw, execution.Config{
		MaxRetries:    cfg.MaxRetries,
		SubmitTimeout: cfg.SubmitTimeout,
	})
	engine.RegisterAdapter(broker.NewPaperAdapter(cfg.SimSlippagePips, cfg.InitialBalance))
	sim := broker.NewSimulationAdapter(store, broker.SimConfig{
		SlippagePips:     cfg.SimSlippagePips,
		CommissionPerLot: cfg.SimCommissionPerLot,
		Latency:          cfg.SimLatency,
		FillProbability:  cfg.SimFillProbability,
		InitialBalance:   cfg.InitialBalance,
	})
	engine.RegisterAdapter(sim)

	settingsSvc.SetModeGuard(engine)
	settingsSvc.SetConnectivityChecker(engine)

	loop := feedback.New(store, analyzer, monitor, settingsSvc, cfg.FeedbackWindow, cfg.FeedbackInterval)
	coord := coordinator.New(store, settingsSvc, validator, engine, monitor, loop)
	settingsSvc.SetHealthChecker(coord)

	// ====== NOTIFICATIONS ======

	tg, err := notify.NewTelegram()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram notifier")
	}
	if tg.Enabled() {
		monitor.SetNotifier(tg)
	}

	// ====== USERS & STRATEGIES ======

	adminID, err := bootstrapAdmin(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}
	if adminID != "" {
		coord.RegisterStrategy(adminID, strategy.NewSMACross(adminID))
	}

	// ====== WORKERS ======

	orderMonitor := execution.NewOrderMonitor(engine, cfg.MonitorInterval)
	go orderMonitor.Run(ctx)
	go loop.Run(ctx, coord.Users)

	feed := feeds.NewBinanceFeed(cfg.FeedSymbols, cfg.FeedInterval)
	feed.Start()
	go coord.Run(ctx, feed.SubscribeCandles())
	go pumpTicks(ctx, feed, sim)
	go dailyResetLoop(ctx, monitor, coord)

	// ====== API ======

	authSvc := auth.New(store, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, blacklist)
	server := api.New(authSvc, limiter, settingsSvc, validator, monitor, engine, analyzer, loop, store)
	go func() {
		if err := server.Run(cfg.ListenAddr); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	if tg.Enabled() {
		tg.Startup(string(types.ModeGuide), string(types.ExecModeSimulation))
	}
	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Received shutdown signal")
	coord.Halt()
	cancel()
	feed.Stop()

	log.Info().Msg("👋 Goodbye!")
}

// bootstrapAdmin ensures the configured admin account exists and returns
// its id. Without ADMIN_EMAIL the process serves the API only.
func bootstrapAdmin(store *storage.Store) (string, error) {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" {
		log.Warn().Msg("ADMIN_EMAIL not set, no pipeline user registered")
		return "", nil
	}

	if user, err := store.GetUserByEmail(email); err == nil {
		return user.ID, nil
	}
	if password == "" {
		return "", fmt.Errorf("ADMIN_PASSWORD is required to create %s", email)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	user := &types.User{
		ID:           "admin",
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(user); err != nil {
		return "", err
	}
	log.Info().Str("email", email).Msg("Admin user created")
	return user.ID, nil
}

// pumpTicks feeds live prices into the simulation adapter so SL/TP levels
// fire between candle closes.
func pumpTicks(ctx context.Context, feed *feeds.BinanceFeed, sim *broker.SimulationAdapter) {
	ticks := feed.SubscribeTicks()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			sim.ApplyTick(tick.Symbol, tick.Price)
		}
	}
}

// dailyResetLoop clears daily counters for every registered user at UTC
// midnight.
func dailyResetLoop(ctx context.Context, monitor *risk.Monitor, coord *coordinator.Coordinator) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			for _, uid := range coord.Users() {
				if err := monitor.ResetDaily(ctx, uid); err != nil {
					log.Error().Err(err).Str("user", uid).Msg("Daily reset failed")
				}
			}
			log.Info().Msg("🌅 Daily counters reset")
		}
	}
}
