package store

import "regexp"

const (
	MaxPathLen     = 2048
	MaxIPLen       = 45
	MaxBodyLen     = 1024 * 1024 // 1 MiB
	MaxHeaderCount = 100
	MaxQueryCount  = 100
	MaxBatchSize   = 100

	CleanupBatchSize = 100
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// validationError is one of the kinds from spec.md §7; it is returned
// verbatim in the {error:<kind>} response body.
type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errInvalidSlug         validationError = "invalid_slug"
	errInvalidMethod       validationError = "invalid_method"
	errInvalidPath         validationError = "invalid_path"
	errInvalidIP           validationError = "invalid_ip"
	errInvalidHeaders      validationError = "invalid_headers"
	errInvalidQueryParams  validationError = "invalid_query_params"
	errInvalidJSON         validationError = "invalid_json"
	errInvalidRequests     validationError = "invalid_requests"
	errBatchTooLarge       validationError = "batch_too_large"
	errBodyTooLarge        validationError = "body_too_large"
	errUnauthorized        validationError = "unauthorized"
	errServerMisconfigured validationError = "server_misconfiguration"
)

func validSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// validateRequest checks a single IncomingRequest against spec.md §4.5's
// field bounds, shared by /capture and each element of /capture-batch.
func validateRequest(r IncomingRequest) error {
	if !allowedMethods[r.Method] {
		return errInvalidMethod
	}
	if len(r.Path) > MaxPathLen {
		return errInvalidPath
	}
	if len(r.IP) > MaxIPLen {
		return errInvalidIP
	}
	if len(r.Body) > MaxBodyLen {
		return errBodyTooLarge
	}
	if len(r.Headers) > MaxHeaderCount {
		return errInvalidHeaders
	}
	if len(r.QueryParams) > MaxQueryCount {
		return errInvalidQueryParams
	}
	return nil
}

func validateBatch(req CaptureBatchRequest) error {
	if !validSlug(req.Slug) {
		return errInvalidSlug
	}
	if len(req.Requests) == 0 || len(req.Requests) > MaxBatchSize {
		return errBatchTooLarge
	}
	for _, r := range req.Requests {
		if err := validateRequest(r); err != nil {
			return err
		}
	}
	return nil
}
