package hotstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnableExpiryEvents turns on keyspace notifications for expirations so that
// an auction record hitting its TTL publishes to __keyevent@<db>__:expired.
// Managed Redis offerings often lock this setting; callers treat failure as
// non-fatal because the due-sweep covers the same ground.
func (s *Store) EnableExpiryEvents(ctx context.Context) error {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("redis enable expiry events failed: %w", err)
	}
	return nil
}

// ConsumeExpirations blocks delivering the IDs of auction records whose keys
// expired, until ctx is cancelled. Expiry here is a backstop signal: records
// are retained well past their deadline, so a fire means the normal
// finalization path never ran. History keys and other suffixes are ignored.
func (s *Store) ConsumeExpirations(ctx context.Context, handler func(auctionID uuid.UUID)) error {
	channel := fmt.Sprintf("__keyevent@%d__:expired", s.client.Options().DB)
	sub := s.client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	s.logger.Info("listening for hot store expirations", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, ok := auctionIDFromExpiredKey(msg.Payload)
			if !ok {
				continue
			}
			handler(id)
		}
	}
}

func auctionIDFromExpiredKey(key string) (uuid.UUID, bool) {
	rest := strings.TrimPrefix(key, auctionKeyPrefix)
	if rest == key || strings.Contains(rest, ":") {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
