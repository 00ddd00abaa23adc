// Package poller consumes checkout events and drops the carts that were
// turned into orders.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"
)

var ErrInvalidEvent = errors.New("invalid checkout event")

// CheckoutHandler removes a checked-out cart without restoring its stock.
type CheckoutHandler interface {
	CompleteCheckout(ctx context.Context, userID string) error
}

type Poller struct {
	handler CheckoutHandler
	reader  *kafka.Reader
	log     *logrus.Logger
}

func NewPoller(handler CheckoutHandler, log *logrus.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{handler: handler, reader: reader, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.getMessagesAndEmptyCart(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.WithError(err).Error("error closing reader")
	}
}

func (p *Poller) getMessagesAndEmptyCart(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Error("error reading message")
		}
		return
	}

	entry := p.log.WithContext(ctx).WithFields(logrus.Fields{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	})
	if err := p.handleMessage(ctx, m.Value); err != nil {
		// the offset is already committed; a poison message is logged and skipped
		entry.WithError(err).Error("failed to handle checkout event")
		return
	}
	entry.Debug("checkout event handled")
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

func (p *Poller) handleMessage(ctx context.Context, value []byte) error {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}

	return p.handler.CompleteCheckout(ctx, event.UserID)
}
