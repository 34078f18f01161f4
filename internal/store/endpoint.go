package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// endpointBySlug resolves the full Endpoint row, or errNotFound.
func (s *Store) endpointBySlug(ctx context.Context, slug string) (*Endpoint, error) {
	var e Endpoint
	var mockHeaders []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, owner_id, name, mock_status, mock_body, mock_headers,
		       is_ephemeral, expires_at, request_count, version
		FROM endpoints WHERE slug = $1
	`, slug).Scan(
		&e.ID, &e.Slug, &e.OwnerID, &e.Name, &e.MockStatus, &e.MockBody, &mockHeaders,
		&e.IsEphemeral, &e.ExpiresAt, &e.RequestCount, &e.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(mockHeaders) > 0 {
		if err := json.Unmarshal(mockHeaders, &e.MockHeaders); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (e *Endpoint) mockResponse() *MockResponse {
	if e.MockStatus == nil && e.MockBody == nil && len(e.MockHeaders) == 0 {
		return nil
	}
	m := &MockResponse{Headers: e.MockHeaders}
	if e.MockStatus != nil {
		m.Status = *e.MockStatus
	}
	if e.MockBody != nil {
		m.Body = *e.MockBody
	}
	return m
}

// EndpointInfo implements GET /endpoint-info.
func (s *Store) EndpointInfo(ctx context.Context, slug string) (*EndpointInfoResponse, error) {
	if !validSlug(slug) {
		return &EndpointInfoResponse{Error: string(errInvalidSlug)}, nil
	}
	e, err := s.endpointBySlug(ctx, slug)
	if errors.Is(err, errNotFound) {
		return &EndpointInfoResponse{Error: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &EndpointInfoResponse{
		EndpointID:   e.ID,
		IsEphemeral:  e.IsEphemeral,
		ExpiresAt:    e.ExpiresAt,
		MockResponse: e.mockResponse(),
	}
	if e.OwnerID != nil {
		resp.OwnerID = *e.OwnerID
	}
	return resp, nil
}
