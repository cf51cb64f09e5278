package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"pickup-order-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisherKeysByOrder(t *testing.T) {
	mem := NewMemoryPublisher()
	ep := NewEventPublisher(mem, "order-events")
	ctx := context.Background()

	order := &models.Order{ID: "o1", ServiceType: models.ServiceLaundry, Status: models.StatusPendingPickup, PartnerID: "p1", PickupStart: time.Now()}
	require.NoError(t, ep.PublishOrderCreated(ctx, order))
	require.NoError(t, ep.PublishStatusChanged(ctx, models.ServiceLaundry, &models.OrderEvent{
		OrderID: "o1", FromStatus: models.StatusPendingPickup, ToStatus: models.StatusAtFacility, Actor: "partner:p1",
	}))

	msgs := mem.Messages("order-events")
	require.Len(t, msgs, 2)
	assert.Equal(t, "order-o1", msgs[0].Key)

	var changed models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(msgs[1].Value, &changed))
	assert.Equal(t, models.EventTypeOrderStatusChanged, changed.EventType)
	assert.Equal(t, models.StatusAtFacility, changed.To)
	assert.NotEmpty(t, changed.EventID)
}

func envelopeMessage(t *testing.T, payload, sig string) kafka.Message {
	b, err := json.Marshal(models.PaymentEventEnvelope{Payload: []byte(payload), Signature: sig})
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestEventHandlerRoutesEnvelope(t *testing.T) {
	eh := NewEventHandler()
	var gotPayload, gotSig string
	eh.OnPaymentEvent(func(ctx context.Context, payload []byte, signature string) error {
		gotPayload, gotSig = string(payload), signature
		return nil
	})

	require.NoError(t, eh.HandleMessage(context.Background(), envelopeMessage(t, `{"id":"evt_1"}`, "t=1,v1=ab")))
	assert.Equal(t, `{"id":"evt_1"}`, gotPayload)
	assert.Equal(t, "t=1,v1=ab", gotSig)
}

func TestEventHandlerAcksPoisonMessages(t *testing.T) {
	eh := NewEventHandler()
	eh.OnPaymentEvent(func(ctx context.Context, payload []byte, signature string) error {
		return fmt.Errorf("verify: %w", models.ErrInvalidSignature)
	})

	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, eh.HandleMessage(context.Background(), envelopeMessage(t, `{}`, "bad")))
}

func TestEventHandlerSurfacesTransientErrors(t *testing.T) {
	eh := NewEventHandler()
	boom := errors.New("database unavailable")
	eh.OnPaymentEvent(func(ctx context.Context, payload []byte, signature string) error {
		return boom
	})

	assert.ErrorIs(t, eh.HandleMessage(context.Background(), envelopeMessage(t, `{}`, "")), boom)
}
