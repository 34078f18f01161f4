// Command receiver runs the webhooks.cc edge service: it accepts inbound
// HTTP at /w/{slug}/{path...}, answers synchronously from cache, and
// batches captures off to the Store.
package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	sentry "github.com/getsentry/sentry-go"

	"github.com/kroqdotdev/webhooks-cc/internal/receiver"
)

func main() {
	storeSiteURL := os.Getenv("STORE_SITE_URL")
	if storeSiteURL == "" {
		log.Fatal("STORE_SITE_URL environment variable is required")
	}
	if _, err := url.Parse(storeSiteURL); err != nil {
		log.Fatalf("STORE_SITE_URL is not a valid URL: %v", err)
	}

	sharedSecret := os.Getenv("CAPTURE_SHARED_SECRET")
	if sharedSecret == "" {
		log.Fatal("CAPTURE_SHARED_SECRET environment variable is required")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			log.Printf("sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * 1e9)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	client := receiver.NewStoreClient(storeSiteURL, sharedSecret)
	server := receiver.NewServer(rootCtx, client)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		rootCancel()
		server.Shutdown()
	}()

	log.Printf("webhook receiver starting on :%s", port)
	if err := server.App.Listen(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
