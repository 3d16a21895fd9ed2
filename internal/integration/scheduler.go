package integration

import (
	"context"
	"time"
)

// DefaultShopPushInterval is how often shop data is pushed.
const DefaultShopPushInterval = 24 * time.Hour

// RunShopPush calls UpdateShop every interval until ctx is cancelled.
func (s *Service) RunShopPush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultShopPushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateShop(ctx)
		}
	}
}
