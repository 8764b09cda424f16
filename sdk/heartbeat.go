package sdk

import (
	"context"
	"math/rand"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// defaultHeartbeatInterval paces directory heartbeats when the caller passes
// no interval.
const defaultHeartbeatInterval = 30 * time.Second

// StartHeartbeat begins reporting liveness to the directory on a background
// goroutine. load is polled before each report and may be nil (reported as
// 0). The returned stop func is idempotent and waits for the loop to exit.
func (c *Client) StartHeartbeat(interval time.Duration, load func() float64) (stop func()) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			// Jitter each cycle so a fleet of agents does not beat in sync.
			var jitter time.Duration
			if span := int64(interval / 10); span > 0 {
				jitter = time.Duration(rand.Int63n(span))
			}
			select {
			case <-time.After(interval + jitter):
			case <-ctx.Done():
				return
			}

			currentLoad := 0.0
			if load != nil {
				currentLoad = load()
			}
			if err := c.dir().Heartbeat(ctx, c.agentID, currentLoad, "online"); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warnf("heartbeat failed: %v", err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
