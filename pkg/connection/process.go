package connection

import (
	"github.com/surrealdb/signalr.go/pkg/wire"
)

// ProcessMessages handles one persistent response frame from a transport.
//
// It records the heartbeat, honors a disconnect request, updates the groups
// token, raises received for every message in order and finally advances the
// message cursor. A failing subscriber is reported and does not stop the
// remaining messages.
func (c *Connection) ProcessMessages(data []byte) {
	c.mu.Lock()
	t := c.transport
	if t != nil && t.SupportsKeepAlive() && c.keepAlive.activated {
		c.keepAlive.lastKeepAlive = c.clock.Now()
	}
	c.mu.Unlock()

	if t == nil || len(data) == 0 {
		return
	}

	res, err := wire.DecodePersistentResponse(data)
	if err != nil {
		c.logger.Error("Failed to decode transport frame", "error", err)
		c.EmitError(err)
		return
	}

	if res.Disconnect {
		c.logger.Info("Disconnect command received from server")
		c.StopWith(false, false)
		return
	}

	if res.GroupsToken != "" {
		c.mu.Lock()
		c.session.groupsToken = res.GroupsToken
		c.mu.Unlock()
	}

	c.metrics.FrameReceived(t.Name(), len(res.Messages))
	for _, msg := range res.Messages {
		c.RaiseReceived(msg)
	}

	if res.MessageID != "" {
		c.mu.Lock()
		c.session.messageID = res.MessageID
		c.mu.Unlock()
	}
}
