package connection

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/surrealdb/signalr.go/pkg/constants"
)

type keepAliveData struct {
	activated      bool
	timeout        time.Duration
	timeoutWarning time.Duration
	checkInterval  time.Duration

	monitoring    bool
	userNotified  bool
	lastKeepAlive time.Time
	generation    uint64
	timer         clockwork.Timer
}

// KeepAlive describes the negotiated keep-alive window.
type KeepAlive struct {
	Activated      bool
	Timeout        time.Duration
	TimeoutWarning time.Duration
	CheckInterval  time.Duration
}

// KeepAlive returns the negotiated keep-alive window.
func (c *Connection) KeepAlive() KeepAlive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return KeepAlive{
		Activated:      c.keepAlive.activated,
		Timeout:        c.keepAlive.timeout,
		TimeoutWarning: c.keepAlive.timeoutWarning,
		CheckInterval:  c.keepAlive.checkInterval,
	}
}

func (c *Connection) monitorKeepAlive() {
	c.mu.Lock()
	if c.keepAlive.monitoring {
		c.mu.Unlock()
		c.logger.Debug("Tried to monitor keep alive but it's already being monitored")
		return
	}
	c.keepAlive.monitoring = true
	c.keepAlive.userNotified = false
	c.keepAlive.lastKeepAlive = c.clock.Now()
	c.keepAlive.generation++
	gen := c.keepAlive.generation
	timeout, warning, interval := c.keepAlive.timeout, c.keepAlive.timeoutWarning, c.keepAlive.checkInterval
	c.keepAlive.timer = c.clock.AfterFunc(interval, func() { c.keepAliveTick(gen) })
	c.mu.Unlock()

	c.logger.Info("Now monitoring keep alive", "timeout", timeout, "warning", warning, "interval", interval)
}

func (c *Connection) stopMonitoringKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.keepAlive.monitoring {
		return
	}
	c.keepAlive.monitoring = false
	c.keepAlive.generation++
	if c.keepAlive.timer != nil {
		c.keepAlive.timer.Stop()
		c.keepAlive.timer = nil
	}
	c.logger.Info("Stopping the monitoring of the keep alive")
}

func (c *Connection) keepAliveTick(gen uint64) {
	c.mu.Lock()
	if !c.keepAlive.monitoring || c.keepAlive.generation != gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.checkKeepAlive()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepAlive.monitoring && c.keepAlive.generation == gen {
		c.keepAlive.timer = c.clock.AfterFunc(c.keepAlive.checkInterval, func() { c.keepAliveTick(gen) })
	}
}

// checkKeepAlive compares the time since the last heartbeat with the
// negotiated window. Past the timeout the transport is told the connection
// is lost. Past the warning the connectionSlow event fires once per
// silence. A fresh heartbeat re-arms the warning.
func (c *Connection) checkKeepAlive() {
	c.mu.Lock()
	state := c.state
	t := c.transport
	elapsed := c.clock.Since(c.keepAlive.lastKeepAlive)

	if state != StateConnected {
		c.mu.Unlock()
		return
	}

	switch {
	case elapsed >= c.keepAlive.timeout:
		c.mu.Unlock()
		c.logger.Info("Keep alive timed out, notifying transport that connection has been lost", "elapsed", elapsed)
		if t != nil {
			if err := t.LostConnection(c); err != nil {
				c.logger.Error("Transport cannot handle a lost connection", "transport", t.Name(), "error", err)
			}
		}
	case elapsed >= c.keepAlive.timeoutWarning:
		if c.keepAlive.userNotified {
			c.mu.Unlock()
			return
		}
		c.keepAlive.userNotified = true
		c.mu.Unlock()
		c.logger.Info("Keep alive has been missed, connection may be dead/slow", "elapsed", elapsed)
		c.emit("connectionSlow", c.connectionSlow.Emit(struct{}{}))
	default:
		c.keepAlive.userNotified = false
		c.mu.Unlock()
	}
}

func (c *Connection) updateKeepAlive() {
	c.mu.Lock()
	c.keepAlive.lastKeepAlive = c.clock.Now()
	c.mu.Unlock()
}

// armDisconnectGuard stops the connection if it is still reconnecting once
// the negotiated disconnect timeout elapses.
func (c *Connection) armDisconnectGuard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guard != nil {
		c.guard.Stop()
	}
	timeout := c.session.disconnectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultDisconnectTimeout
	}
	c.guard = c.clock.AfterFunc(timeout, func() {
		if c.State() != StateReconnecting {
			return
		}
		c.logger.Info("Reconnect timeout exceeded, connection stopping", "timeout", timeout)
		c.StopWith(false, false)
	})
}

func (c *Connection) disarmDisconnectGuard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guard != nil {
		c.guard.Stop()
		c.guard = nil
	}
}
