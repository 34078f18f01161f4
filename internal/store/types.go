package store

// Plan mirrors webhooktypes.Plan; kept as a plain string here so the
// store package doesn't need to import the receiver's wire types for
// what is, on this side, a persisted column value.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Endpoint is the persisted row backing a capture endpoint.
type Endpoint struct {
	ID           string
	Slug         string
	OwnerID      *string
	Name         *string
	MockStatus   *int
	MockBody     *string
	MockHeaders  map[string]string
	IsEphemeral  bool
	ExpiresAt    *int64
	RequestCount int64
	Version      int64
}

// Owner is the persisted row backing a billing account.
type Owner struct {
	ID                 string
	Email              string
	Plan               Plan
	RequestLimit       int64
	RequestsUsed       int64
	PeriodStart        *int64
	PeriodEnd          *int64
	CancelAtPeriodEnd  bool
	SubscriptionStatus *string
	ExternalBillingID  *string
	Version            int64
}

// IncomingRequest is a single request as submitted by the Receiver to
// /capture or /capture-batch, before validation.
type IncomingRequest struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	QueryParams map[string]string `json:"queryParams"`
	IP          string            `json:"ip"`
	ReceivedAt  int64             `json:"receivedAt"`
}

// CaptureBatchRequest is the /capture-batch request body.
type CaptureBatchRequest struct {
	Slug     string            `json:"slug"`
	Requests []IncomingRequest `json:"requests"`
}

// CaptureResponse is the response shared by /capture and /capture-batch.
type CaptureResponse struct {
	Success      bool          `json:"success,omitempty"`
	Error        string        `json:"error,omitempty"`
	Inserted     int           `json:"inserted"`
	MockResponse *MockResponse `json:"mockResponse,omitempty"`
}

// MockResponse mirrors webhooktypes.MockResponse for JSON wire purposes.
type MockResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// EndpointInfoResponse is the /endpoint-info response.
type EndpointInfoResponse struct {
	EndpointID   string        `json:"endpointId,omitempty"`
	OwnerID      string        `json:"ownerId,omitempty"`
	IsEphemeral  bool          `json:"isEphemeral,omitempty"`
	ExpiresAt    *int64        `json:"expiresAt,omitempty"`
	MockResponse *MockResponse `json:"mockResponse,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// QuotaResponse is the /quota response.
type QuotaResponse struct {
	OwnerID          string `json:"ownerId,omitempty"`
	Remaining        int64  `json:"remaining"`
	Limit            int64  `json:"limit"`
	PeriodEnd        *int64 `json:"periodEnd,omitempty"`
	NeedsPeriodStart bool   `json:"needsPeriodStart,omitempty"`
	Error            string `json:"error,omitempty"`
}

// CheckPeriodRequest is the /check-period request body.
type CheckPeriodRequest struct {
	OwnerID string `json:"ownerId"`
}

// CheckPeriodResponse is the /check-period response.
type CheckPeriodResponse struct {
	Remaining  int64  `json:"remaining"`
	Limit      int64  `json:"limit"`
	PeriodEnd  *int64 `json:"periodEnd,omitempty"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
	Error      string `json:"error,omitempty"`
}
