package paymentsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/tokokita/api/internal/kafka"
	"github.com/tokokita/api/internal/orders"
	"github.com/tokokita/api/internal/redisx"
)

// Service applies payment outcomes published by the gateway collaborator to
// the order's payment status. It records results, it never initiates or
// settles payments.
type Service struct {
	Orders      *orders.Service
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandlePaymentEvent is the consumer handler for the payment.authorized and
// payment.failed topics.
func (s *Service) HandlePaymentEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.Log.Warn("undecodable payment event", zap.Error(err))
		return nil // poison message, commit and move on
	}

	var target orders.PaymentStatus
	switch env.EventType {
	case orders.EventPaymentAuthorized:
		target = orders.PaymentPaid
	case orders.EventPaymentFailed:
		target = orders.PaymentFailed
	default:
		return nil
	}

	// Gateways redeliver; dedup on event id before touching the database.
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		if fresh, err := redisx.SetNX(ctx, s.Redis, dkey, redisx.TTLDedup); err == nil && !fresh {
			return nil
		}
	}

	payload, err := kafkax.UnwrapPayload[orders.PaymentResultPayload](env.Payload)
	if err != nil {
		s.Log.Warn("undecodable payment payload", zap.Error(err))
		return nil
	}

	order, err := s.Orders.SetPaymentStatus(ctx, payload.OrderID, target)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			s.Log.Warn("payment event for unknown order", zap.String("order_id", payload.OrderID))
			return nil
		}
		return err // transient, leave uncommitted for redelivery
	}

	if s.Redis != nil {
		_ = s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderSummary, order.ID)).Err()
	}

	s.Log.Info("payment status applied",
		zap.String("order_id", order.ID),
		zap.String("payment_status", string(target)),
		zap.String("payment_ref", payload.PaymentRef),
	)
	return nil
}
