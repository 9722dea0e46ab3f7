package store

import (
	"context"
	"fmt"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
)

// LocalOwner stamps records created before anyone signs in. Login adopts
// them via AdoptOwner, so they upload and pull under the real account.
const LocalOwner = "local"

// AdoptOwner reassigns every record owned by from to the to owner and
// returns the number of records changed.
//
// Each change goes through the normal logged write path, so adopted records
// are queued for upload like any other edit. Remote pulls filter by owner,
// which is why pre-login records must be adopted before they can reach
// other devices.
func (s *Store) AdoptOwner(ctx context.Context, from, to string) (int, error) {
	if from == "" || to == "" {
		return 0, fmt.Errorf("owner ids must not be empty")
	}
	if from == to {
		return 0, nil
	}

	now := schema.Millis(time.Now().UTC())
	adopted := 0
	for _, table := range schema.SyncedTables {
		ids, err := s.ownedIDs(ctx, table, from)
		if err != nil {
			return adopted, err
		}
		for _, id := range ids {
			fields := schema.Row{"owner_id": to, "modified_at": now}
			if err := s.applyLogged(ctx, table, id, schema.OpPatch, fields); err != nil {
				return adopted, fmt.Errorf("failed to adopt %s %s: %w", table, id, err)
			}
			adopted++
		}
	}
	return adopted, nil
}

func (s *Store) ownedIDs(ctx context.Context, table, owner string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE owner_id = ?", table), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by owner: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
