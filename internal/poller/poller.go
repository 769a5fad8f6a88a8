// Package poller consumes checkout events and empties the carts they consumed.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	Topic   = "checkout-outbox"
	GroupID = "cartsync-consumer"
)

// MessageReader is the subset of *kafka.Reader the poller uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartClearer empties the local carts of a user.
type CartClearer interface {
	ClearUser(ctx context.Context, userID string) int
}

// SnapshotDropper forgets the cached remote cart of a user.
type SnapshotDropper interface {
	Delete(ctx context.Context, userID string) error
}

type checkoutEvent struct {
	UserID     string `json:"user_id"`
	CheckoutID string `json:"checkout_id,omitempty"`
}

type Poller struct {
	reader    MessageReader
	carts     CartClearer
	snapshots SnapshotDropper
	logger    *zap.Logger
	// retryDelay is waited after a read error so a dead broker does not spin the loop.
	retryDelay time.Duration
}

func NewPoller(carts CartClearer, snapshots SnapshotDropper, logger *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewPollerWithReader(reader, carts, snapshots, logger)
}

func NewPollerWithReader(reader MessageReader, carts CartClearer, snapshots SnapshotDropper, logger *zap.Logger) *Poller {
	return &Poller{
		reader:     reader,
		carts:      carts,
		snapshots:  snapshots,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Run reads events until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.handleNext(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("checkout event not applied", zap.Error(err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handleNext(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		t := time.NewTimer(p.retryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return fmt.Errorf("read message: %w", err)
	}
	return p.apply(ctx, m)
}

func (p *Poller) apply(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse message at offset %d: %w", m.Offset, err)
	}
	if event.UserID == "" {
		return fmt.Errorf("message at offset %d: missing user_id", m.Offset)
	}

	cleared := p.carts.ClearUser(ctx, event.UserID)

	if err := p.snapshots.Delete(ctx, event.UserID); err != nil {
		p.logger.Warn("failed to delete cached snapshot", zap.String("user_id", event.UserID), zap.Error(err))
	}

	p.logger.Info("cart cleared after checkout",
		zap.String("user_id", event.UserID),
		zap.String("checkout_id", event.CheckoutID),
		zap.Int("sessions", cleared))
	return nil
}
