package store

import (
	"context"
	"fmt"
	"time"

	"pickup-order-service/internal/models"

	"github.com/lib/pq"
)

// ReserveSlot creates the ledger entry on first use and increments it in a
// single statement. The conditional upsert affects no row when the
// reservation would exceed the total.
func (s *Store) ReserveSlot(ctx context.Context, key models.SlotKey, units, defaultTotal int) (bool, error) {
	query := `
		INSERT INTO capacity_ledger (partner_id, service_type, slot_start, total_units, consumed_units)
		SELECT $1, $2, $3, $4, $5
		WHERE $5 <= $4
		ON CONFLICT (partner_id, service_type, slot_start) DO UPDATE
			SET consumed_units = capacity_ledger.consumed_units + EXCLUDED.consumed_units,
			    updated_at = NOW()
			WHERE capacity_ledger.consumed_units + EXCLUDED.consumed_units <= capacity_ledger.total_units`

	res, err := s.q.ExecContext(ctx, query, key.PartnerID, key.ServiceType, key.SlotStart, defaultTotal, units)
	if err != nil {
		return false, fmt.Errorf("failed to reserve capacity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSlot decrements consumed units, floored at zero. Releasing a slot
// that was never reserved is a no-op.
func (s *Store) ReleaseSlot(ctx context.Context, key models.SlotKey, units int) error {
	query := `
		UPDATE capacity_ledger
		SET consumed_units = GREATEST(consumed_units - $4, 0), updated_at = NOW()
		WHERE partner_id = $1 AND service_type = $2 AND slot_start = $3`

	_, err := s.q.ExecContext(ctx, query, key.PartnerID, key.ServiceType, key.SlotStart, units)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	return nil
}

// SlotUsage reads the ledger entries that exist for keys, keyed by
// SlotKey.String(). Keys without an entry are absent from the map.
func (s *Store) SlotUsage(ctx context.Context, keys []models.SlotKey) (map[string]models.CapacityEntry, error) {
	type group struct {
		partnerID string
		st        models.ServiceType
		starts    pq.StringArray
	}
	groups := make(map[string]*group)
	var order []string
	for _, k := range keys {
		id := k.PartnerID + ":" + string(k.ServiceType)
		g, ok := groups[id]
		if !ok {
			g = &group{partnerID: k.PartnerID, st: k.ServiceType}
			groups[id] = g
			order = append(order, id)
		}
		g.starts = append(g.starts, k.SlotStart.Format(time.RFC3339))
	}

	query := `
		SELECT partner_id, service_type, slot_start, total_units, consumed_units, updated_at
		FROM capacity_ledger
		WHERE partner_id = $1 AND service_type = $2 AND slot_start = ANY($3::timestamptz[])`

	out := make(map[string]models.CapacityEntry, len(keys))
	for _, id := range order {
		g := groups[id]
		var entries []models.CapacityEntry
		if err := s.q.SelectContext(ctx, &entries, query, g.partnerID, g.st, g.starts); err != nil {
			return nil, fmt.Errorf("failed to read capacity: %w", err)
		}
		for _, e := range entries {
			out[e.Key().String()] = e
		}
	}
	return out, nil
}
