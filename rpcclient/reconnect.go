package rpcclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxReconnectElapsed bounds total reconnect time at roughly 30
// minutes of exponential backoff. A destroyed socket transitions the
// state machine to connecting and triggers backoff reconnect; this
// package gives up rather than retrying forever, closing the channel
// fatally once exhausted.
const maxReconnectElapsed = 30 * time.Minute

// reconnectLoop retries dialAndHandshake with exponential backoff
// until it succeeds, the channel is closed, or maxReconnectElapsed is
// exceeded (roughly 365 ticks at the default backoff curve).
func (c *Client) reconnectLoop() {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxReconnectElapsed

	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			c.log.Error("reconnect exceeded max elapsed time, closing channel")
			_ = c.Close()
			return
		}

		select {
		case <-time.After(d):
		case <-c.closeCh:
			return
		}

		c.mu.Lock()
		closed := c.st == stateClosed
		c.mu.Unlock()
		if closed {
			return
		}

		if err := c.dialAndHandshake(time.Now().Add(c.cfg.Timeout)); err != nil {
			c.log.Warn("reconnect attempt failed", "error", err)
			continue
		}

		c.Resume()
		c.afterConnect()
		c.log.Info("reconnected", "server", c.ServerID())
		return
	}
}
