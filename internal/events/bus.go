package events

import (
	"context"
	"encoding/json"
	"fmt"

	"market_sales/internal/sales"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// TransferOutcomeTopic carries the outcomes of custody transfers.
const TransferOutcomeTopic = "market.transfer_outcomes"

// OutcomeHandler resolves a transfer outcome.
type OutcomeHandler func(ctx context.Context, outcome sales.TransferOutcome) (*sales.SettlementResult, error)

// Bus delivers transfer outcomes from the goroutine that ran the custody call to the
// settlement resolver.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus creates an in-process bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewLoggerAdapter(logger))

	return &Bus{
		pubsub: pubsub,
		logger: logger,
	}
}

// Publish sends outcome to the subscribers of TransferOutcomeTopic.
func (b *Bus) Publish(ctx context.Context, outcome sales.TransferOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode transfer outcome: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("token", outcome.Token)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(TransferOutcomeTopic, msg); err != nil {
		return fmt.Errorf("failed to publish transfer outcome %s: %w", outcome.Token, err)
	}
	return nil
}

// Subscribe starts handling outcomes until ctx is done or the bus is closed. Every
// message is acked once handled: ResolvePurchase already ignores duplicates and a
// redelivery cannot change an invalid outcome.
func (b *Bus) Subscribe(ctx context.Context, handle OutcomeHandler) error {
	messages, err := b.pubsub.Subscribe(ctx, TransferOutcomeTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TransferOutcomeTopic, err)
	}

	go func() {
		for msg := range messages {
			b.handle(msg, handle)
		}
	}()
	return nil
}

func (b *Bus) handle(msg *message.Message, handle OutcomeHandler) {
	defer msg.Ack()

	var outcome sales.TransferOutcome
	if err := json.Unmarshal(msg.Payload, &outcome); err != nil {
		b.logger.Error("dropping undecodable transfer outcome",
			zap.String("message_uuid", msg.UUID), zap.Error(err))
		return
	}
	if _, err := handle(msg.Context(), outcome); err != nil {
		b.logger.Error("failed to resolve transfer outcome",
			zap.String("token", outcome.Token), zap.Error(err))
	}
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
