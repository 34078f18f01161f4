package store

import (
	"context"
	"log"
)

// RunPeriodResetTick implements the period-reset job from spec.md
// §4.5: scan owners with periodEnd < now (up to 100). Pro owners with
// cancelAtPeriodEnd downgrade to the free tier's defaults; other pro
// owners roll the period forward by one billing interval and zero
// requestsUsed. Free owners are left to lazy-activation via CheckPeriod.
func (s *Store) RunPeriodResetTick(ctx context.Context) (processed int, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM owners WHERE period_end IS NOT NULL AND period_end < $1 LIMIT 100
	`, nowMS())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.resetOwnerPeriod(ctx, id); err != nil {
			log.Printf("period-reset: owner %s: %v", id, err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Store) resetOwnerPeriod(ctx context.Context, ownerID string) error {
	owner, err := s.ownerByID(ctx, ownerID)
	if err != nil {
		return err
	}

	if owner.Plan != PlanPro {
		// Free owners don't roll forward here: clearing the expired period
		// makes /quota report needsPeriodStart, and the next capture's
		// CheckPeriod call re-activates them.
		_, err := s.pool.Exec(ctx, `
			UPDATE owners
			SET period_start = NULL, period_end = NULL, requests_used = 0, version = version + 1
			WHERE id = $1
		`, owner.ID)
		return err
	}

	if owner.CancelAtPeriodEnd {
		_, err := s.pool.Exec(ctx, `
			UPDATE owners
			SET plan = $2, request_limit = $3, requests_used = 0,
			    period_start = NULL, period_end = NULL, cancel_at_period_end = FALSE,
			    version = version + 1
			WHERE id = $1
		`, owner.ID, PlanFree, s.cfg.FreeRequestLimit)
		return err
	}

	newStart := nowMS()
	newEnd := newStart + s.cfg.BillingPeriodMS
	_, err = s.pool.Exec(ctx, `
		UPDATE owners
		SET period_start = $2, period_end = $3, requests_used = 0, version = version + 1
		WHERE id = $1
	`, owner.ID, newStart, newEnd)
	return err
}
