package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pickup-order-service/internal/models"
)

// Memory is an in-process Repository and capacity backend. Transactions
// are serialised and rolled back by restoring a snapshot. The capacity
// ledger lives outside the snapshot, as it does in a separate store.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData

	capMu    sync.Mutex
	capacity map[string]models.CapacityEntry
}

type memoryData struct {
	orders        map[string]models.Order
	events        []models.OrderEvent
	modifications []models.OrderModification
	policies      []models.CancellationPolicy
	partners      map[string]models.Partner
	paymentEvents map[string]models.PaymentEventRecord
	retries       []models.PaymentRetry
	nextEventID   int64
	nextRetryID   int64
	nextPolicyID  int64
}

func (d memoryData) clone() memoryData {
	c := d
	c.orders = make(map[string]models.Order, len(d.orders))
	for k, v := range d.orders {
		c.orders[k] = v
	}
	c.events = append([]models.OrderEvent(nil), d.events...)
	c.modifications = append([]models.OrderModification(nil), d.modifications...)
	c.policies = append([]models.CancellationPolicy(nil), d.policies...)
	c.partners = make(map[string]models.Partner, len(d.partners))
	for k, v := range d.partners {
		c.partners[k] = v
	}
	c.paymentEvents = make(map[string]models.PaymentEventRecord, len(d.paymentEvents))
	for k, v := range d.paymentEvents {
		c.paymentEvents[k] = v
	}
	c.retries = append([]models.PaymentRetry(nil), d.retries...)
	return c
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		data: memoryData{
			orders:        make(map[string]models.Order),
			partners:      make(map[string]models.Partner),
			paymentEvents: make(map[string]models.PaymentEventRecord),
		},
		capacity: make(map[string]models.CapacityEntry),
	}
}

// AddPartner registers or replaces a partner
func (m *Memory) AddPartner(p models.Partner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.partners[p.ID] = p
}

// AddPolicy stores a new policy version. An active policy deactivates the
// previous active one for its service type.
func (m *Memory) AddPolicy(p models.CancellationPolicy) models.CancellationPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.nextPolicyID++
	p.ID = m.data.nextPolicyID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Active {
		for i := range m.data.policies {
			if m.data.policies[i].ServiceType == p.ServiceType {
				m.data.policies[i].Active = false
			}
		}
	}
	m.data.policies = append(m.data.policies, p)
	return p
}

// SeedDefaults loads the same partners and policies the SQL migrations seed
func (m *Memory) SeedDefaults() {
	m.AddPolicy(models.CancellationPolicy{ServiceType: models.ServiceLaundry, Version: 1,
		AllowCancel: true, AllowReschedule: true, Active: true})
	m.AddPolicy(models.CancellationPolicy{ServiceType: models.ServiceCleaning, Version: 1,
		NoticeHours: 24, CancellationFeePct: 50, RescheduleNoticeHours: 24, RescheduleFeePct: 25,
		AllowCancel: true, AllowReschedule: true, Active: true})
	m.AddPartner(models.Partner{ID: "partner-mission-wash", Name: "Mission Wash & Fold",
		ZipCodes: []string{"94103", "94107", "94110"}, ServiceTypes: []string{string(models.ServiceLaundry)},
		LaundryMaxOrders: 8, SlotMinutes: 120, DayStartHour: 8, DayEndHour: 20,
		Timezone: "America/Los_Angeles", Active: true})
	m.AddPartner(models.Partner{ID: "partner-bay-clean", Name: "Bay Home Cleaning",
		ZipCodes: []string{"94103", "94107", "94110", "94114"}, ServiceTypes: []string{string(models.ServiceCleaning)},
		CleaningMaxMinutes: 480, SlotMinutes: 120, DayStartHour: 8, DayEndHour: 18,
		Timezone: "America/Los_Angeles", Active: true})
}

// WithTx runs fn with every other transaction excluded and restores the
// previous state when fn fails
func (m *Memory) WithTx(ctx context.Context, fn func(Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	if err := fn(memoryTx{m}); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTx struct {
	*Memory
}

func (t memoryTx) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.orders[order.ID]; ok {
		return ErrDuplicateIdempotencyKey
	}
	for _, o := range m.data.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	m.data.orders[order.ID] = *order
	return nil
}

func (m *Memory) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.data.orders[id]
	if !ok {
		return nil, models.NewNotFoundError("order", id)
	}
	return &o, nil
}

func (m *Memory) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *Memory) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.data.orders {
		if o.IdempotencyKey == key {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Order
	for _, o := range m.data.orders {
		if intentID == "" || o.PaymentIntentID != intentID {
			continue
		}
		if found == nil || (found.Status == models.StatusRescheduled && o.Status != models.StatusRescheduled) ||
			(found.Status == o.Status && o.CreatedAt.After(found.CreatedAt)) {
			o := o
			found = &o
		}
	}
	if found == nil {
		return nil, models.NewNotFoundError("order with payment intent", intentID)
	}
	return found, nil
}

func (m *Memory) UpdateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.orders[order.ID]; !ok {
		return models.NewNotFoundError("order", order.ID)
	}
	order.UpdatedAt = time.Now().UTC()
	m.data.orders[order.ID] = *order
	return nil
}

func (m *Memory) InsertOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.nextEventID++
	event.ID = m.data.nextEventID
	m.data.events = append(m.data.events, *event)
	return nil
}

func (m *Memory) ListOrderEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OrderEvent
	for _, e := range m.data.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) InsertModification(ctx context.Context, mod *models.OrderModification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.modifications = append(m.data.modifications, *mod)
	return nil
}

func (m *Memory) ListModifications(ctx context.Context, orderID string) ([]models.OrderModification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OrderModification
	for _, mod := range m.data.modifications {
		if mod.OrderID == orderID {
			out = append(out, mod)
		}
	}
	return out, nil
}

func (m *Memory) GetActivePolicy(ctx context.Context, st models.ServiceType) (*models.CancellationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.data.policies {
		if p.ServiceType == st && p.Active {
			p := p
			return &p, nil
		}
	}
	return nil, models.NewNotFoundError("active cancellation policy", string(st))
}

func (m *Memory) ListActivePolicies(ctx context.Context) ([]models.CancellationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CancellationPolicy
	for _, p := range m.data.policies {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out, nil
}

func (m *Memory) MarkPolicyReferenced(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.policies {
		if m.data.policies[i].ID == id {
			m.data.policies[i].Referenced = true
			return nil
		}
	}
	return models.NewNotFoundError("cancellation policy", "")
}

func (m *Memory) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data.partners[id]
	if !ok {
		return nil, models.NewNotFoundError("partner", id)
	}
	return &p, nil
}

func (m *Memory) ListPartners(ctx context.Context, st models.ServiceType, zip string) ([]models.Partner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Partner
	for _, p := range m.data.partners {
		if p.Active && p.Offers(st) && p.Serves(zip) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) IsPaymentEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data.paymentEvents[eventID]
	return ok, nil
}

func (m *Memory) InsertPaymentEvent(ctx context.Context, rec *models.PaymentEventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.paymentEvents[rec.EventID]; ok {
		return false, nil
	}
	m.data.paymentEvents[rec.EventID] = *rec
	return true, nil
}

func (m *Memory) InsertPaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.nextRetryID++
	retry.ID = m.data.nextRetryID
	now := time.Now().UTC()
	retry.CreatedAt, retry.UpdatedAt = now, now
	m.data.retries = append(m.data.retries, *retry)
	return nil
}

func (m *Memory) ListDuePaymentRetries(ctx context.Context, now time.Time, limit int) ([]models.PaymentRetry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PaymentRetry
	for _, r := range m.data.retries {
		if r.Status == models.RetryScheduled && !r.ScheduledAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdatePaymentRetryStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.retries {
		if m.data.retries[i].ID == id {
			m.data.retries[i].Status = status
			m.data.retries[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return models.NewNotFoundError("payment retry", "")
}

// ReserveSlot is the compare-and-increment under the ledger mutex
func (m *Memory) ReserveSlot(ctx context.Context, key models.SlotKey, units, defaultTotal int) (bool, error) {
	m.capMu.Lock()
	defer m.capMu.Unlock()
	k := key.String()
	e, ok := m.capacity[k]
	if !ok {
		e = models.CapacityEntry{PartnerID: key.PartnerID, ServiceType: key.ServiceType,
			SlotStart: key.SlotStart, TotalUnits: defaultTotal}
	}
	if e.ConsumedUnits+units > e.TotalUnits {
		return false, nil
	}
	e.ConsumedUnits += units
	e.UpdatedAt = time.Now().UTC()
	m.capacity[k] = e
	return true, nil
}

func (m *Memory) ReleaseSlot(ctx context.Context, key models.SlotKey, units int) error {
	m.capMu.Lock()
	defer m.capMu.Unlock()
	k := key.String()
	e, ok := m.capacity[k]
	if !ok {
		return nil
	}
	e.ConsumedUnits -= units
	if e.ConsumedUnits < 0 {
		e.ConsumedUnits = 0
	}
	e.UpdatedAt = time.Now().UTC()
	m.capacity[k] = e
	return nil
}

func (m *Memory) SlotUsage(ctx context.Context, keys []models.SlotKey) (map[string]models.CapacityEntry, error) {
	m.capMu.Lock()
	defer m.capMu.Unlock()
	out := make(map[string]models.CapacityEntry, len(keys))
	for _, key := range keys {
		if e, ok := m.capacity[key.String()]; ok {
			out[key.String()] = e
		}
	}
	return out, nil
}
