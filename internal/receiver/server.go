package receiver

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewServer builds the Fiber app and wires the ingest route. rootCtx
// governs the caches' background cleanup loops and is canceled by the
// caller on shutdown.
func NewServer(rootCtx context.Context, client *StoreClient) *Server {
	s := &Server{
		EndpointCache: NewEndpointCache(rootCtx, client, EndpointCacheTTL),
		QuotaCache:    NewQuotaCache(rootCtx, client, QuotaCacheTTL),
		Batcher:       NewRequestBatcher(client, BatchMaxSize, BatchFlushInterval),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             MaxBodySize,
	})
	app.Use(recover.New())
	// All routes here are public webhook capture endpoints; there is no
	// authenticated browser-facing surface on this service.
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool { return true },
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,HEAD,OPTIONS",
		AllowHeaders:     "Content-Type",
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${method} ${path} ${status} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.All("/w/:slug/*", s.handleWebhook)

	s.App = app
	return s
}

// Shutdown flushes all pending batches, waits up to ShutdownTimeout for
// them to complete, and then shuts down the Fiber app, closing the
// listener.
func (s *Server) Shutdown() {
	log.Println("shutdown signal received, flushing pending requests...")
	s.Batcher.FlushAll()

	done := make(chan struct{})
	go func() {
		s.Batcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("all pending requests flushed successfully")
	case <-time.After(ShutdownTimeout):
		log.Println("shutdown timeout exceeded, some requests may be lost")
	}

	if err := s.App.Shutdown(); err != nil {
		log.Printf("error during server shutdown: %v", err)
	}
}
