package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-sync/api"
	"chat-sync/auth"
	"chat-sync/realtime"
	"chat-sync/repositories"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"chat-sync/store"
	"chat-sync/tracking"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the lifecycle, and centralizes
// error reporting so that deferred cleanups execute before exit.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	userID := config.UserID
	if userID == "" {
		extracted, err := auth.UserID(config.AuthToken)
		if err != nil {
			return fmt.Errorf("no USER_ID and token carries no subject: %w", err)
		}
		userID = extracted
	}

	// 2. Local cache (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("cache opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	chatRepository := repositories.NewChatRepository(db, log)
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	cache := store.New(chatRepository, messageRepository, log, config.MaxCachedPerChat)
	cache.Load()

	// 3. Remote surfaces
	apiClient := api.NewClient(api.Config{
		BaseURL:     config.APIBaseURL,
		AuthToken:   config.AuthToken,
		CallTimeout: config.CallTimeout,
		MaxAttempts: config.MaxAttempts,
	}, log)

	channel := realtime.NewChannel(realtime.Config{
		URL:           config.RealtimeURL,
		AuthToken:     config.AuthToken,
		QueueCapacity: config.QueueCapacity,
	}, log)

	tracker := tracking.NewTracker(log)
	service := services.NewChatService(log, services.Config{
		UserID:       userID,
		SendTimeout:  config.SendTimeout,
		HistoryLimit: config.HistoryLimit,
	}, cache, apiClient, channel, tracker)

	// 4. Supervision
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(
		channel,
		service,
		workers.NewJanitorWorker(log, cache, config.CacheRetention, config.PurgeInterval),
		workers.NewHeartbeatWorker(log, channel, config.HeartbeatInterval),
	)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runBadgerGC(ctx, db, config.BadgerGCInterval)

	log.Info("Starting chat sync layer", "userId", userID, "api", config.APIBaseURL)
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	// 6. Final Cleanup: flush the outgoing queue within a short deadline.
	closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = channel.Close(closeCtx)
	supervisor.Stop()
	<-done
	log.Info("Program stopped cleanly")
	return nil
}

// runBadgerGC triggers value-log garbage collection periodically.
// A long-lived cache rewrites message statuses in place; without GC the
// value log only grows.
func runBadgerGC(ctx context.Context, db *badger.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}
