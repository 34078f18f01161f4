// Command store runs the webhooks.cc system of record: it validates,
// persists, and accounts for captures forwarded by the Receiver, and
// runs the expiry-cleanup and billing period-reset jobs.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"github.com/kroqdotdev/webhooks-cc/internal/store"
)

func mustInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("%s must be an integer: %v", name, err)
	}
	return n
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	sharedSecret := os.Getenv("CAPTURE_SHARED_SECRET")
	if sharedSecret == "" {
		log.Fatal("CAPTURE_SHARED_SECRET environment variable is required")
	}

	if sentryDSN := os.Getenv("SENTRY_DSN"); sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: sentryDSN}); err != nil {
			log.Printf("sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * 1e9)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3002"
	}

	cfg := store.Config{
		FreeRequestLimit: mustInt64("FREE_REQUEST_LIMIT", 500),
		ProRequestLimit:  mustInt64("PRO_REQUEST_LIMIT", 500000),
		EphemeralTTLMS:   mustInt64("EPHEMERAL_TTL_MS", 600000),
		BillingPeriodMS:  mustInt64("BILLING_PERIOD_MS", 2592000000),
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	pool, err := store.OpenPool(rootCtx, dsn)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	st := store.New(pool, cfg)
	server := store.NewServer(st, sharedSecret)

	runJobLoop(rootCtx, "cleanup", time.Minute, func(ctx context.Context) {
		for {
			n, err := st.RunCleanupTick(ctx)
			if err != nil {
				log.Printf("cleanup tick: %v", err)
				return
			}
			if n == 0 {
				return
			}
		}
	})
	runJobLoop(rootCtx, "period-reset", 5*time.Minute, func(ctx context.Context) {
		for {
			n, err := st.RunPeriodResetTick(ctx)
			if err != nil {
				log.Printf("period-reset tick: %v", err)
				return
			}
			if n == 0 {
				return
			}
		}
	})

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownCh
		rootCancel()
		st.Scheduler.Close()
		if err := server.App.Shutdown(); err != nil {
			log.Printf("error during store shutdown: %v", err)
		}
	}()

	log.Printf("webhook store starting on :%s", port)
	if err := server.App.Listen(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runJobLoop drives a periodic background job until rootCtx is
// canceled. Each tick drains the job function (which internally loops
// until a pass finds nothing left to do) before sleeping.
func runJobLoop(rootCtx context.Context, name string, interval time.Duration, tick func(ctx context.Context)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				log.Printf("%s job stopping", name)
				return
			case <-ticker.C:
				tick(rootCtx)
			}
		}
	}()
}
