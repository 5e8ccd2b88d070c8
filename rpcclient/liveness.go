package rpcclient

import (
	"sync"
	"time"

	"github.com/hyurl/alar/wire"
)

// livenessDriver drives the channel's liveness check: every 5
// seconds, if the channel has been silent for at least
// cfg.PingInterval, it sends PING and arms a self-destruct timer; any
// received frame in the meantime cancels that timer.
type livenessDriver struct {
	client *Client

	mu           sync.Mutex
	ticker       *time.Ticker
	stopCh       chan struct{}
	lastActive   time.Time
	destructTime *time.Timer
}

const livenessTick = 5 * time.Second

func newLivenessDriver(c *Client) *livenessDriver {
	return &livenessDriver{client: c, lastActive: time.Now()}
}

func (l *livenessDriver) start() {
	l.mu.Lock()
	if l.ticker != nil {
		l.mu.Unlock()
		return
	}
	l.ticker = time.NewTicker(livenessTick)
	l.stopCh = make(chan struct{})
	ticker := l.ticker
	stop := l.stopCh
	l.lastActive = time.Now()
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				l.tick()
			case <-stop:
				return
			}
		}
	}()
}

func (l *livenessDriver) tick() {
	l.mu.Lock()
	idle := time.Since(l.lastActive)
	pingInterval := l.client.cfg.PingInterval
	l.mu.Unlock()

	if idle < pingInterval {
		return
	}

	l.armSelfDestruct()
	_ = l.client.writeMessage(wire.PING, l.client.id)
}

func (l *livenessDriver) armSelfDestruct() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destructTime != nil {
		l.destructTime.Stop()
	}
	timeout := l.client.cfg.Timeout
	l.destructTime = time.AfterFunc(timeout, func() {
		l.client.log.Warn("no reply before self-destruct timeout, closing socket")
		l.client.mu.Lock()
		conn := l.client.conn
		l.client.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// noteActivity records that a frame was just received, which cancels
// any armed self-destruction.
func (l *livenessDriver) noteActivity() {
	l.mu.Lock()
	l.lastActive = time.Now()
	if l.destructTime != nil {
		l.destructTime.Stop()
		l.destructTime = nil
	}
	l.mu.Unlock()
}

func (l *livenessDriver) cancelSelfDestruct() { l.noteActivity() }

func (l *livenessDriver) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ticker != nil {
		l.ticker.Stop()
		close(l.stopCh)
		l.ticker = nil
	}
	if l.destructTime != nil {
		l.destructTime.Stop()
		l.destructTime = nil
	}
}
