package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
)

// Channels carrying auction events between instances. Every API/gateway
// node publishes to and subscribes from the same Redis, so a bid accepted
// on one node reaches watchers connected to every other node.
const (
	ChannelBidPlaced = "auction.bid-placed"
	ChannelExtended  = "auction.extended"
	ChannelEnded     = "auction.ended"
)

// Envelope is the wire format on every channel. Payload is the JSON of the
// domain event named by Type; AuctionID is duplicated outside the payload so
// consumers can route without decoding it.
type Envelope struct {
	Type      string          `json:"type"`
	AuctionID uuid.UUID       `json:"auction_id"`
	TS        int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher fans auction events out over Redis pub/sub. Delivery is
// fire-and-forget: durable history lives in the cold store and late joiners
// snapshot on join, so a dropped message costs at most one repaint.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// PublishBidPlaced announces an accepted bid. When the bid also extended the
// deadline the event carries the old and new end times.
func (p *Publisher) PublishBidPlaced(ctx context.Context, ev auction.BidPlacedEvent) error {
	return p.publish(ctx, ChannelBidPlaced, auction.EventTypeBidPlaced, ev.AuctionID, ev)
}

// PublishExtended announces a deadline extension.
func (p *Publisher) PublishExtended(ctx context.Context, ev auction.AuctionExtendedEvent) error {
	return p.publish(ctx, ChannelExtended, auction.EventTypeExtended, ev.AuctionID, ev)
}

// PublishEnded announces finalization. The caller guarantees it is invoked
// exactly once per auction (tied to the winning state transition).
func (p *Publisher) PublishEnded(ctx context.Context, ev auction.AuctionEndedEvent) error {
	return p.publish(ctx, ChannelEnded, auction.EventTypeEnded, ev.AuctionID, ev)
}

func (p *Publisher) publish(ctx context.Context, channel, eventType string, auctionID uuid.UUID, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event failed: %w", eventType, err)
	}

	env := Envelope{
		Type:      eventType,
		AuctionID: auctionID,
		TS:        time.Now().UnixMilli(),
		Payload:   body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope failed: %w", eventType, err)
	}

	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s failed: %w", channel, err)
	}
	return nil
}

// Handler receives decoded events from a Subscriber. Methods run on the
// subscriber's receive goroutine; implementations must not block.
type Handler interface {
	HandleBidPlaced(ctx context.Context, ev auction.BidPlacedEvent)
	HandleAuctionExtended(ctx context.Context, ev auction.AuctionExtendedEvent)
	HandleAuctionEnded(ctx context.Context, ev auction.AuctionEndedEvent)
}

// Subscriber consumes the auction channels and dispatches decoded events to
// a Handler.
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger

	// retryDelay spaces out resubscribe attempts after the receive channel
	// closes unexpectedly.
	retryDelay time.Duration
}

func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client:     client,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Run subscribes to all auction channels and dispatches until ctx is done.
// go-redis reconnects the pub/sub connection internally; Run additionally
// resubscribes from scratch if the receive channel closes.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	for {
		if err := s.receive(ctx, h); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
		s.logger.Warn("bus subscription lost, resubscribing")
	}
}

// receive drains one subscription until ctx is done (returns ctx.Err) or the
// message channel closes (returns nil, caller resubscribes).
func (s *Subscriber) receive(ctx context.Context, h Handler) error {
	sub := s.client.Subscribe(ctx, ChannelBidPlaced, ChannelExtended, ChannelEnded)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, h, msg.Payload)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, h Handler, raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.Warn("bus envelope decode failed", zap.Error(err))
		return
	}

	switch env.Type {
	case auction.EventTypeBidPlaced:
		var ev auction.BidPlacedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			s.logger.Warn("bid_placed payload decode failed", zap.Error(err))
			return
		}
		h.HandleBidPlaced(ctx, ev)
	case auction.EventTypeExtended:
		var ev auction.AuctionExtendedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			s.logger.Warn("auction_extended payload decode failed", zap.Error(err))
			return
		}
		h.HandleAuctionExtended(ctx, ev)
	case auction.EventTypeEnded:
		var ev auction.AuctionEndedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			s.logger.Warn("auction_ended payload decode failed", zap.Error(err))
			return
		}
		h.HandleAuctionEnded(ctx, ev)
	default:
		s.logger.Warn("unknown bus event type", zap.String("type", env.Type))
	}
}
