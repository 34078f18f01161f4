package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) ownerByID(ctx context.Context, ownerID string) (*Owner, error) {
	var o Owner
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, plan, request_limit, requests_used, period_start, period_end,
		       cancel_at_period_end, subscription_status, external_billing_id, version
		FROM owners WHERE id = $1
	`, ownerID).Scan(
		&o.ID, &o.Email, &o.Plan, &o.RequestLimit, &o.RequestsUsed, &o.PeriodStart, &o.PeriodEnd,
		&o.CancelAtPeriodEnd, &o.SubscriptionStatus, &o.ExternalBillingID, &o.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	return &o, err
}

// Quota implements GET /quota. Ephemeral or owner-less endpoints, and
// endpoints whose owner record is missing, are reported unlimited per
// spec.md §4.5.
func (s *Store) Quota(ctx context.Context, slug string) (*QuotaResponse, error) {
	if !validSlug(slug) {
		return &QuotaResponse{Error: string(errInvalidSlug)}, nil
	}
	e, err := s.endpointBySlug(ctx, slug)
	if errors.Is(err, errNotFound) {
		return &QuotaResponse{Error: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if e.OwnerID == nil || e.IsEphemeral {
		return &QuotaResponse{Remaining: -1, Limit: -1}, nil
	}

	owner, err := s.ownerByID(ctx, *e.OwnerID)
	if errors.Is(err, errNotFound) {
		return &QuotaResponse{Remaining: -1, Limit: -1}, nil
	}
	if err != nil {
		return nil, err
	}

	if owner.Plan == PlanFree && owner.PeriodStart == nil {
		return &QuotaResponse{
			OwnerID:          owner.ID,
			Remaining:        owner.RequestLimit - owner.RequestsUsed,
			Limit:            owner.RequestLimit,
			NeedsPeriodStart: true,
		}, nil
	}

	remaining := owner.RequestLimit - owner.RequestsUsed
	if remaining < 0 {
		remaining = 0
	}
	return &QuotaResponse{
		OwnerID:   owner.ID,
		Remaining: remaining,
		Limit:     owner.RequestLimit,
		PeriodEnd: owner.PeriodEnd,
	}, nil
}

// CheckPeriod implements POST /check-period: the lazy activation path
// for a free owner's first capture, assigning periodStart/periodEnd
// instead of requiring a sign-up-time job.
func (s *Store) CheckPeriod(ctx context.Context, ownerID string) (*CheckPeriodResponse, error) {
	owner, err := s.ownerByID(ctx, ownerID)
	if errors.Is(err, errNotFound) {
		return &CheckPeriodResponse{Error: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}

	if owner.PeriodStart != nil {
		return &CheckPeriodResponse{
			Remaining: owner.RequestLimit - owner.RequestsUsed,
			Limit:     owner.RequestLimit,
			PeriodEnd: owner.PeriodEnd,
		}, nil
	}

	start := nowMS()
	end := start + s.cfg.BillingPeriodMS
	tag, err := s.pool.Exec(ctx, `
		UPDATE owners
		SET period_start = $2, period_end = $3, version = version + 1
		WHERE id = $1 AND period_start IS NULL
	`, owner.ID, start, end)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Another request activated the period between our read and write;
		// re-read so the caller still gets a consistent response.
		owner, err = s.ownerByID(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return &CheckPeriodResponse{
			Remaining: owner.RequestLimit - owner.RequestsUsed,
			Limit:     owner.RequestLimit,
			PeriodEnd: owner.PeriodEnd,
		}, nil
	}

	return &CheckPeriodResponse{
		Remaining: owner.RequestLimit - owner.RequestsUsed,
		Limit:     owner.RequestLimit,
		PeriodEnd: &end,
	}, nil
}
