package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/capacity"
	"pickup-order-service/internal/models"
	"pickup-order-service/internal/notify"
	"pickup-order-service/internal/payment"
	"pickup-order-service/internal/pricing"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	eventsTopic        = "order-events"
	notificationsTopic = "notifications"
	webhookSecret      = "whsec_test"
	laundryPartnerID   = "partner-mission-wash"
	cleaningPartnerID  = "partner-bay-clean"
)

var (
	// 10:00 and 12:00 Pacific on a June weekday
	slotA = time.Date(2026, 6, 10, 17, 0, 0, 0, time.UTC)
	slotB = time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC)
	testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	repo     *store.Memory
	backend  *flakyBackend
	ledger   *capacity.Ledger
	provider *payment.MockProvider
	pub      *broker.MemoryPublisher
	verifier *payment.Verifier
	sm       *StateMachine
	rec      *Reconciler
	svc      *OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	util.SetLogger(zap.NewNop())

	repo := store.NewMemory()
	repo.SeedDefaults()
	backend := &flakyBackend{Backend: repo}
	ledger := capacity.NewLedger(backend, repo, capacity.Defaults{LaundryMaxOrders: 8, CleaningMaxMinutes: 480})
	pub := broker.NewMemoryPublisher()
	events := broker.NewEventPublisher(pub, eventsTopic)
	notifier := notify.NewKafkaNotifier(pub, notificationsTopic)
	provider := payment.NewMockProvider()
	verifier := payment.NewVerifier(webhookSecret, 5*time.Minute)

	sm := NewStateMachine(events)
	rec := NewReconciler(repo, provider, verifier, sm, notifier, nil, DefaultPaymentConfig())
	svc := NewOrderService(repo, ledger, pricing.NewCalculator(pricing.DefaultConfig()), sm, rec, notifier, events)

	h := &harness{repo: repo, backend: backend, ledger: ledger, provider: provider, pub: pub,
		verifier: verifier, sm: sm, rec: rec, svc: svc}
	h.setNow(testNow)
	return h
}

func (h *harness) setNow(now time.Time) {
	clock := func() time.Time { return now }
	h.svc.now = clock
	h.rec.now = clock
	h.sm.now = clock
}

func laundryRequest(key string, slot time.Time) *CreateOrderRequest {
	return &CreateOrderRequest{
		IdempotencyKey: key,
		CustomerID:     "cust-1",
		Phone:          "+14155550100",
		ServiceType:    models.ServiceLaundry,
		Zip:            "94107",
		PartnerID:      laundryPartnerID,
		SlotStart:      slot,
		Details:        models.DetailsColumn{Details: models.LaundryDetails{EstimatedWeightLbs: 15}},
	}
}

func cleaningRequest(key string, slot time.Time, paymentMethod string) *CreateOrderRequest {
	req := &CreateOrderRequest{
		IdempotencyKey: key,
		CustomerID:     "cust-1",
		Phone:          "+14155550101",
		ServiceType:    models.ServiceCleaning,
		Zip:            "94114",
		PartnerID:      cleaningPartnerID,
		SlotStart:      slot,
		Details:        models.DetailsColumn{Details: models.CleaningDetails{Bedrooms: 2, Bathrooms: 1}},
	}
	if paymentMethod != "" {
		req.PaymentCustomerID = "cus_test"
		req.PaymentMethodID = paymentMethod
	}
	return req
}

var customer = models.Actor{Role: models.RoleCustomer, ID: "cust-1"}
var admin = models.Actor{Role: models.RoleAdmin, ID: "ops"}

func (h *harness) create(t *testing.T, req *CreateOrderRequest) *models.Order {
	t.Helper()
	order, created, err := h.svc.CreateOrder(context.Background(), req, customer)
	require.NoError(t, err)
	require.True(t, created)
	return order
}

func (h *harness) consumed(t *testing.T, partnerID string, st models.ServiceType, slot time.Time) int {
	t.Helper()
	key := models.NewSlotKey(partnerID, st, slot)
	usage, err := h.repo.SlotUsage(context.Background(), []models.SlotKey{key})
	require.NoError(t, err)
	return usage[key.String()].ConsumedUnits
}

func (h *harness) reload(t *testing.T, id string) *models.Order {
	t.Helper()
	order, err := h.repo.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

// setOrder forces fields on a stored order, standing in for earlier history
func (h *harness) setOrder(t *testing.T, id string, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	order := h.reload(t, id)
	mutate(order)
	require.NoError(t, h.repo.UpdateOrder(context.Background(), order))
	return order
}

func (h *harness) notifications(t *testing.T, kind string) []models.NotificationEvent {
	t.Helper()
	var out []models.NotificationEvent
	for _, msg := range h.pub.Messages(notificationsTopic) {
		var ev models.NotificationEvent
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// webhook builds a signed provider event
func (h *harness) webhook(t *testing.T, id, typ string, obj models.ProviderObject) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(models.ProviderEvent{
		ID:      id,
		Type:    typ,
		Created: time.Now().Unix(),
		Data:    models.ProviderEventData{Object: obj},
	})
	require.NoError(t, err)
	return payload, h.verifier.Sign(payload, time.Now())
}

var errInjected = errors.New("injected failure")

// flakyBackend fails releases of one slot on demand
type flakyBackend struct {
	capacity.Backend
	failRelease string
}

func (b *flakyBackend) ReleaseSlot(ctx context.Context, key models.SlotKey, units int) error {
	if b.failRelease != "" && key.String() == b.failRelease {
		return fmt.Errorf("release %s: %w", key, errInjected)
	}
	return b.Backend.ReleaseSlot(ctx, key, units)
}

// failingTx fails every transaction
type failingTx struct {
	store.Repository
}

func (f failingTx) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	return errInjected
}
