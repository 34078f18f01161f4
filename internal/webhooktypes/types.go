// Package webhooktypes holds the wire types shared between the Receiver
// and the Store. It mirrors the role of webhooks.cc/shared in the
// original monorepo, generalized from a single-plan capture model to the
// full Endpoint/Request/Owner model in the capture-core spec.
package webhooktypes

// CapturedRequest is a single inbound HTTP request queued by the
// Receiver and persisted by the Store.
type CapturedRequest struct {
	ID          string            `json:"_id,omitempty"`
	EndpointID  string            `json:"endpointId,omitempty"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams"`
	ContentType string            `json:"contentType,omitempty"`
	IP          string            `json:"ip"`
	Size        int               `json:"size,omitempty"`
	ReceivedAt  int64             `json:"receivedAt"`
}

// Endpoint is a capture endpoint, owned or ephemeral.
type Endpoint struct {
	ID           string        `json:"_id"`
	OwnerID      string        `json:"ownerId,omitempty"`
	Slug         string        `json:"slug"`
	Name         string        `json:"name,omitempty"`
	MockResponse *MockResponse `json:"mockResponse,omitempty"`
	IsEphemeral  bool          `json:"isEphemeral"`
	ExpiresAt    int64         `json:"expiresAt,omitempty"`
	RequestCount int64         `json:"requestCount,omitempty"`
	CreatedAt    int64         `json:"createdAt"`
}

// MockResponse defines what an endpoint should return synchronously.
type MockResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Plan is an owner's billing plan.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Owner is a billed account that owns zero or more endpoints.
type Owner struct {
	ID                 string `json:"_id"`
	Email              string `json:"email"`
	Plan               Plan   `json:"plan"`
	RequestLimit       int64  `json:"requestLimit"`
	RequestsUsed       int64  `json:"requestsUsed"`
	PeriodStart        int64  `json:"periodStart,omitempty"`
	PeriodEnd          int64  `json:"periodEnd,omitempty"`
	CancelAtPeriodEnd  bool   `json:"cancelAtPeriodEnd,omitempty"`
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
	ExternalBillingID  string `json:"externalBillingId,omitempty"`
}

// UnsafeResponseHeaders lists header names (lowercase) that the Receiver
// never forwards from a mock response, regardless of what the owner
// configured, because they carry security semantics that don't make
// sense coming from a webhook capture endpoint.
var UnsafeResponseHeaders = map[string]struct{}{
	"set-cookie":                {},
	"strict-transport-security": {},
	"content-security-policy":   {},
	"x-frame-options":           {},
}
