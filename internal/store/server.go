package store

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server exposes the Store's authenticated HTTP surface over the
// Fiber app, matching the teacher's middleware stack.
type Server struct {
	App   *fiber.App
	store *Store
}

// NewServer builds the Store's Fiber app. secret is the shared bearer
// token; per spec.md §6.2 the Store fails closed (rejects everything)
// when it's empty, so an unset CAPTURE_SHARED_SECRET can never open
// the capture surface.
func NewServer(st *Store, secret string) *Server {
	s := &Server{App: fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             MaxBodyLen + 4096, // headroom for JSON envelope around the 1 MiB body field
	}), store: st}

	s.App.Use(recover.New())
	s.App.Use(cors.New(cors.Config{AllowOriginsFunc: func(string) bool { return true }}))
	s.App.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${method} ${path} ${status} ${latency}\n",
	}))

	s.App.Use(authMiddleware(secret))

	s.App.Get("/endpoint-info", s.handleEndpointInfo)
	s.App.Get("/quota", s.handleQuota)
	s.App.Post("/check-period", s.handleCheckPeriod)
	s.App.Post("/capture", s.handleCapture)
	s.App.Post("/capture-batch", s.handleCaptureBatch)

	return s
}

func authMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": string(errServerMisconfigured)})
		}
		header := c.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": string(errUnauthorized)})
		}
		return c.Next()
	}
}

func (s *Server) handleEndpointInfo(c *fiber.Ctx) error {
	slug := c.Query("slug")
	resp, err := s.store.EndpointInfo(c.UserContext(), slug)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(resp)
}

func (s *Server) handleQuota(c *fiber.Ctx) error {
	slug := c.Query("slug")
	resp, err := s.store.Quota(c.UserContext(), slug)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(resp)
}

func (s *Server) handleCheckPeriod(c *fiber.Ctx) error {
	var req CheckPeriodRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": string(errInvalidJSON)})
	}
	resp, err := s.store.CheckPeriod(c.UserContext(), req.OwnerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(resp)
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	var body struct {
		Slug string `json:"slug"`
		IncomingRequest
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": string(errInvalidJSON)})
	}
	resp, err := s.store.Capture(c.UserContext(), body.Slug, body.IncomingRequest)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return statusFor(c, resp)
}

func (s *Server) handleCaptureBatch(c *fiber.Ctx) error {
	var req CaptureBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": string(errInvalidJSON)})
	}
	resp, err := s.store.CaptureBatch(c.UserContext(), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return statusFor(c, resp)
}

// statusFor maps a CaptureResponse's error kind to the status codes
// spec.md §7 lists; a successful capture is always 200.
func statusFor(c *fiber.Ctx, resp *CaptureResponse) error {
	switch validationError(resp.Error) {
	case "":
		return c.JSON(resp)
	case errBodyTooLarge:
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(resp)
	case "not_found", "expired":
		return c.Status(fiber.StatusOK).JSON(resp)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
}
