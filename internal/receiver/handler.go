package receiver

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kroqdotdev/webhooks-cc/internal/webhooktypes"
)

// Server wires the caches, batcher, and store client into Fiber handlers.
type Server struct {
	App *fiber.App

	EndpointCache *EndpointCache
	QuotaCache    *QuotaCache
	Batcher       *RequestBatcher
}

// isValidSlug matches spec.md's slug grammar and also guards against
// path traversal in any code path that uses the slug as a lookup key.
func isValidSlug(slug string) bool {
	if len(slug) == 0 || len(slug) > 50 {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			continue
		default:
			return false
		}
	}
	return true
}

func realIP(c *fiber.Ctx) string {
	if ip := c.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	return c.IP()
}

// handleWebhook implements spec.md §4.1.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if !isValidSlug(slug) {
		return c.Status(fiber.StatusNotFound).SendString("Endpoint not found")
	}

	path := c.Params("*")
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	endpointInfo, err := s.EndpointCache.Get(c.UserContext(), slug)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("internal_error")
	}
	if endpointInfo == nil || endpointInfo.Error == "not_found" {
		return c.Status(fiber.StatusNotFound).SendString("Endpoint not found")
	}
	if endpointInfo.ExpiresAt != nil && *endpointInfo.ExpiresAt < time.Now().UnixMilli() {
		return c.Status(fiber.StatusGone).SendString("Endpoint expired")
	}

	quotaResult := s.QuotaCache.CheckAndDecrement(c.UserContext(), slug)
	if !quotaResult.Allowed {
		return c.Status(fiber.StatusTooManyRequests).SendString("Quota exceeded")
	}

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	queryParams := make(map[string]string)
	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		queryParams[string(key)] = string(value)
	})

	s.Batcher.Add(slug, BufferedRequest{
		Method:      c.Method(),
		Path:        path,
		Headers:     headers,
		Body:        string(c.Body()),
		QueryParams: queryParams,
		IP:          realIP(c),
		ReceivedAt:  time.Now().UnixMilli(),
	})

	return writeMockResponse(c, endpointInfo.MockResponse)
}

// writeMockResponse emits the endpoint's configured mock response,
// filtering headers per spec.md §3/§4.1 invariants, or a plain 200 OK
// when none is configured.
func writeMockResponse(c *fiber.Ctx, mock *MockResponse) error {
	if mock == nil {
		return c.SendString("OK")
	}

	for key, value := range mock.Headers {
		if len(key) > MaxHeaderKeyLen || len(value) > MaxHeaderValueLen {
			continue
		}
		if strings.ContainsAny(key, "\r\n") || strings.ContainsAny(value, "\r\n") {
			continue
		}
		if _, unsafe := webhooktypes.UnsafeResponseHeaders[strings.ToLower(key)]; unsafe {
			continue
		}
		c.Set(key, value)
	}

	status := mock.Status
	if status < 100 || status > 599 {
		status = fiber.StatusOK
	}
	return c.Status(status).SendString(mock.Body)
}
