package store

import (
	"context"
	"log"
)

// RunCleanupTick implements the expiry cleanup job from spec.md §4.5:
// scan endpoints with expiresAt < now (up to 100), delete up to
// CleanupBatchSize rows per endpoint, and delete the endpoint itself
// only once a delete batch comes back short of the cap (no rows left).
// Callers re-invoke this on a ticker until a tick reports zero work.
func (s *Store) RunCleanupTick(ctx context.Context) (scanned int, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM endpoints WHERE expires_at IS NOT NULL AND expires_at < $1 LIMIT 100
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
		if err := s.cleanupEndpoint(ctx, id); err != nil {
			log.Printf("cleanup: endpoint %s: %v", id, err)
			continue
		}
		scanned++
	}
	return scanned, nil
}

func (s *Store) cleanupEndpoint(ctx context.Context, endpointID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM requests WHERE id IN (
			SELECT id FROM requests WHERE endpoint_id = $1 LIMIT $2
		)
	`, endpointID, CleanupBatchSize)
	if err != nil {
		return err
	}

	if int(tag.RowsAffected()) < CleanupBatchSize {
		_, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, endpointID)
		return err
	}
	return nil
}
