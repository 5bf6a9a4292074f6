// Package events consumes order lifecycle events from Kafka and turns them
// into reservation and consumption calls on the ledger.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	OrderConfirmed = "OrderConfirmed"
	OrderCancelled = "OrderCancelled"
	OrderFulfilled = "OrderFulfilled"
)

// OrderEvent is the message value on the orders topic.
type OrderEvent struct {
	EventID    string           `json:"event_id"`
	EventType  string           `json:"event_type"`
	SourceType string           `json:"source_type"`
	SourceID   string           `json:"source_id"`
	Lines      []OrderLineEvent `json:"lines"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

type OrderLineEvent struct {
	ItemCode string `json:"item_code"`
	Quantity int64  `json:"quantity"`
}

// MessageReader is the part of *kafka.Reader the listener uses. Offsets are
// committed explicitly, after the event has been applied.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader returns a consumer-group reader for cfg.Topic.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

type OrderListener struct {
	reader  MessageReader
	svc     app.ApplicationService
	log     *zap.Logger
	backoff time.Duration
}

func NewOrderListener(reader MessageReader, svc app.ApplicationService, log *zap.Logger) *OrderListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderListener{reader: reader, svc: svc, log: log, backoff: time.Second}
}

// Start fetches until ctx is cancelled. A message is committed once it has
// been applied or has failed for good (bad payload, or a ledger rejection
// such as insufficient stock). Any other failure is retried in place, so no
// later offset is committed past an event that has not been applied.
func (l *OrderListener) Start(ctx context.Context) {
	l.log.Info("starting order event listener")
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("stopping order event listener")
				return
			}
			l.log.Error("failed to fetch kafka message", zap.Error(err))
			if !l.wait(ctx) {
				return
			}
			continue
		}
		if !l.apply(ctx, msg) {
			return
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The event is redelivered after a rebalance; applying it again is safe.
			l.log.Error("failed to commit kafka message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// apply handles msg until it succeeds or fails permanently. It returns false
// when ctx ends first.
func (l *OrderListener) apply(ctx context.Context, msg kafka.Message) bool {
	for {
		err := l.Handle(ctx, msg)
		if err == nil {
			return true
		}
		log := l.log.With(
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("key", msg.Key),
			zap.Error(err))
		if permanent(err) {
			log.Error("dropping order event")
			return true
		}
		log.Warn("failed to apply order event, retrying")
		if !l.wait(ctx) {
			return false
		}
	}
}

func (l *OrderListener) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.backoff):
		return true
	}
}

var errDecode = errors.New("malformed order event")

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	var (
		notFound  *core.NotFoundError
		invalid   *core.ValidationError
		short     *core.InsufficientStockError
		over      *core.OverReservationError
		duplicate *core.DuplicateError
		badMove   *core.InvalidTransferError
		overflow  *core.CapacityExceededError
	)
	return errors.Is(err, errDecode) ||
		errors.As(err, &notFound) ||
		errors.As(err, &invalid) ||
		errors.As(err, &short) ||
		errors.As(err, &over) ||
		errors.As(err, &duplicate) ||
		errors.As(err, &badMove) ||
		errors.As(err, &overflow)
}

// Handle decodes one message and applies it. Unknown event types are ignored.
// The event id, or the message's position when the producer sent none, keys
// the ledger writes so a redelivered event applies once.
func (l *OrderListener) Handle(ctx context.Context, msg kafka.Message) error {
	var ev OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	if ev.EventID == "" {
		ev.EventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}

	log := l.log.With(
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType),
		zap.String("source_type", ev.SourceType),
		zap.String("source_id", ev.SourceID))

	switch ev.EventType {
	case OrderConfirmed:
		res, err := l.svc.ConfirmOrder(ctx, ev.request())
		if err != nil {
			return err
		}
		log.Info("order reserved", zap.Int("reservations", len(res.Reservations)))
	case OrderCancelled:
		res, err := l.svc.CancelOrder(ctx, ev.SourceType, ev.SourceID)
		if err != nil {
			return err
		}
		log.Info("order released", zap.Int("released", len(res.Released)))
	case OrderFulfilled:
		res, err := l.svc.FulfillOrder(ctx, ev.request())
		if err != nil {
			return err
		}
		log.Info("order consumed", zap.Int("consumptions", len(res.Consumptions)))
	default:
		log.Debug("ignoring event")
	}
	return nil
}

func (ev OrderEvent) request() app.OrderRequest {
	req := app.OrderRequest{
		SourceType:     ev.SourceType,
		SourceID:       ev.SourceID,
		ExpiresAt:      ev.ExpiresAt,
		IdempotencyKey: ev.EventID,
	}
	for _, l := range ev.Lines {
		req.Lines = append(req.Lines, app.OrderLineInput{ItemCode: l.ItemCode, Quantity: l.Quantity})
	}
	return req
}
