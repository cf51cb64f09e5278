// Package capacity tracks how many units of each partner slot are booked
// and enumerates what is still available.
package capacity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend performs the atomic ledger primitives. Reserve must be a single
// compare-and-increment; Release floors at zero.
type Backend interface {
	ReserveSlot(ctx context.Context, key models.SlotKey, units, defaultTotal int) (bool, error)
	ReleaseSlot(ctx context.Context, key models.SlotKey, units int) error
	SlotUsage(ctx context.Context, keys []models.SlotKey) (map[string]models.CapacityEntry, error)
}

// PartnerDirectory resolves partners for default totals and enumeration
type PartnerDirectory interface {
	GetPartner(ctx context.Context, id string) (*models.Partner, error)
	ListPartners(ctx context.Context, st models.ServiceType, zip string) ([]models.Partner, error)
}

// Defaults apply when a partner has no per-slot maximum configured
type Defaults struct {
	LaundryMaxOrders   int
	CleaningMaxMinutes int
}

// Ledger is the capacity ledger service
type Ledger struct {
	backend  Backend
	partners PartnerDirectory
	defaults Defaults
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a capacity ledger over the given backend
func NewLedger(backend Backend, partners PartnerDirectory, defaults Defaults) *Ledger {
	return &Ledger{
		backend:  backend,
		partners: partners,
		defaults: defaults,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// TotalFor is the per-slot capacity a partner offers for a service type
func (l *Ledger) TotalFor(p *models.Partner, st models.ServiceType) int {
	switch st {
	case models.ServiceLaundry:
		if p.LaundryMaxOrders > 0 {
			return p.LaundryMaxOrders
		}
		return l.defaults.LaundryMaxOrders
	case models.ServiceCleaning:
		if p.CleaningMaxMinutes > 0 {
			return p.CleaningMaxMinutes
		}
		return l.defaults.CleaningMaxMinutes
	}
	return 0
}

// Reserve takes units from a slot. false means the slot is full, which is
// not an error; callers surface it as a SLOT_FULL conflict.
func (l *Ledger) Reserve(ctx context.Context, p *models.Partner, st models.ServiceType, slotStart time.Time, units int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "CapacityLedger.Reserve")
	defer span.End()

	if units <= 0 {
		return false, models.NewValidationError("INVALID_UNITS", "units must be positive")
	}

	start := time.Now()
	defer func() {
		util.CapacityReserveLatency.Observe(time.Since(start).Seconds())
	}()

	key := models.NewSlotKey(p.ID, st, slotStart)
	ok, err := l.backend.ReserveSlot(ctx, key, units, l.TotalFor(p, st))
	if err != nil {
		util.CapacityReservationsTotal.WithLabelValues(string(st), "error").Inc()
		return false, fmt.Errorf("failed to reserve slot %s: %w", key, err)
	}
	if !ok {
		util.CapacityReservationsTotal.WithLabelValues(string(st), "full").Inc()
		l.logger.Info("Slot full",
			zap.String("slot", key.String()),
			zap.Int("units", units))
		return false, nil
	}

	util.CapacityReservationsTotal.WithLabelValues(string(st), "reserved").Inc()
	return true, nil
}

// Release returns units to a slot. Releasing past zero is a no-op.
func (l *Ledger) Release(ctx context.Context, partnerID string, st models.ServiceType, slotStart time.Time, units int) error {
	ctx, span := util.StartSpan(ctx, "CapacityLedger.Release")
	defer span.End()

	if units <= 0 {
		return nil
	}

	key := models.NewSlotKey(partnerID, st, slotStart)
	if err := l.backend.ReleaseSlot(ctx, key, units); err != nil {
		l.logger.Error("Failed to release slot",
			zap.String("slot", key.String()),
			zap.Int("units", units),
			zap.Error(err))
		return fmt.Errorf("failed to release slot %s: %w", key, err)
	}
	util.CapacityReleasesTotal.WithLabelValues(string(st)).Inc()
	return nil
}

// AvailableSlots lists slots with remaining capacity for partners serving
// zip on date. The result is computed fresh on every call.
func (l *Ledger) AvailableSlots(ctx context.Context, st models.ServiceType, zip, date string) ([]models.SlotAvailability, error) {
	ctx, span := util.StartSpan(ctx, "CapacityLedger.AvailableSlots")
	defer span.End()

	if !st.Valid() {
		return nil, models.NewValidationError("INVALID_SERVICE_TYPE", fmt.Sprintf("unknown service type %q", st))
	}

	partners, err := l.partners.ListPartners(ctx, st, zip)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}

	results := make([][]models.SlotAvailability, len(partners))
	g, gctx := errgroup.WithContext(ctx)
	for i := range partners {
		i, p := i, &partners[i]
		g.Go(func() error {
			slots, err := l.partnerSlots(gctx, p, st, date)
			if err != nil {
				return err
			}
			results[i] = slots
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.SlotAvailability
	for _, r := range results {
		out = append(out, r...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].PartnerID < out[j].PartnerID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (l *Ledger) partnerSlots(ctx context.Context, p *models.Partner, st models.ServiceType, date string) ([]models.SlotAvailability, error) {
	starts, err := EnumerateSlots(p, date)
	if err != nil {
		return nil, err
	}

	now := l.now()
	keys := make([]models.SlotKey, 0, len(starts))
	for _, s := range starts {
		if s.After(now) {
			keys = append(keys, models.NewSlotKey(p.ID, st, s))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	usage, err := l.backend.SlotUsage(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot usage for partner %s: %w", p.ID, err)
	}

	total := l.TotalFor(p, st)
	var out []models.SlotAvailability
	for _, k := range keys {
		entryTotal, consumed := total, 0
		if e, ok := usage[k.String()]; ok {
			entryTotal, consumed = e.TotalUnits, e.ConsumedUnits
		}
		remaining := entryTotal - consumed
		if remaining <= 0 {
			continue
		}
		out = append(out, models.SlotAvailability{
			PartnerID:      p.ID,
			PartnerName:    p.Name,
			ServiceType:    st,
			Start:          k.SlotStart,
			End:            SlotEnd(p, k.SlotStart),
			TotalUnits:     entryTotal,
			ConsumedUnits:  consumed,
			RemainingUnits: remaining,
		})
	}
	return out, nil
}
