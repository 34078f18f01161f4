package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

func contentTypeOf(headers map[string]string) *string {
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") {
			return &v
		}
	}
	return nil
}

// CaptureBatch implements POST /capture-batch per spec.md §4.5.
func (s *Store) CaptureBatch(ctx context.Context, req CaptureBatchRequest) (*CaptureResponse, error) {
	if err := validateBatch(req); err != nil {
		var verr validationError
		if errors.As(err, &verr) {
			return &CaptureResponse{Error: string(verr), Inserted: 0}, nil
		}
		return nil, err
	}

	e, err := s.endpointBySlug(ctx, req.Slug)
	if errors.Is(err, errNotFound) {
		return &CaptureResponse{Error: "not_found", Inserted: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	if e.ExpiresAt != nil && *e.ExpiresAt < nowMS() {
		return &CaptureResponse{Error: "expired", Inserted: 0}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, r := range req.Requests {
		headers, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, err
		}
		query, err := json.Marshal(r.QueryParams)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO requests (id, endpoint_id, method, path, headers, body, query_params, content_type, ip, size, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, uuid.NewString(), e.ID, r.Method, r.Path, headers, r.Body, query, contentTypeOf(r.Headers), r.IP, len(r.Body), r.ReceivedAt)
		if err != nil {
			return nil, err
		}
		inserted++
	}

	if inserted > 0 {
		if _, err := tx.Exec(ctx, `UPDATE endpoints SET request_count = request_count + $2 WHERE id = $1`, e.ID, inserted); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if e.OwnerID != nil && inserted > 0 {
		s.Scheduler.Schedule(*e.OwnerID, int64(inserted))
	}

	return &CaptureResponse{Success: true, Inserted: inserted}, nil
}

// Capture implements POST /capture, the single/legacy path: identical
// semantics to CaptureBatch with exactly one request and receivedAt
// assigned server-side.
func (s *Store) Capture(ctx context.Context, slug string, r IncomingRequest) (*CaptureResponse, error) {
	r.ReceivedAt = nowMS()
	return s.CaptureBatch(ctx, CaptureBatchRequest{Slug: slug, Requests: []IncomingRequest{r}})
}
