package connection

import "fmt"

// State is the lifecycle state of a Connection.
type State int

const (
	StateConnecting   State = 0
	StateConnected    State = 1
	StateReconnecting State = 2
	StateDisconnected State = 4
)

// States lists every lifecycle state.
var States = []State{StateConnecting, StateConnected, StateReconnecting, StateDisconnected}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CanTransition reports whether from -> to is a lifecycle edge.
// Every non-disconnected state may move to disconnected.
func CanTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateReconnecting || to == StateDisconnected
	case StateReconnecting:
		return to == StateConnected || to == StateDisconnected
	}
	return false
}

// StateChange is the payload of the stateChanged event.
type StateChange struct {
	Old State
	New State
}

// ChangeState moves the connection from expected to next if and only if the
// current state is expected and expected -> next is a lifecycle edge.
// While a stop is in progress only the move to disconnected is accepted.
// It reports whether the transition was committed.
func (c *Connection) ChangeState(expected, next State) bool {
	c.mu.Lock()
	if c.state != expected || !CanTransition(expected, next) || (c.stopping && next != StateDisconnected) {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.mu.Unlock()

	c.afterTransition(expected, next)
	return true
}

// afterTransition runs the bookkeeping tied to a committed transition, outside the lock.
func (c *Connection) afterTransition(old, next State) {
	c.logger.Debug("Connection state changed", "old", old, "new", next)
	c.metrics.StateChanged(old.String(), next.String())

	switch {
	case next == StateReconnecting:
		c.armDisconnectGuard()
	case old == StateReconnecting:
		c.disarmDisconnectGuard()
	}

	c.emit("stateChanged", c.stateChanged.Emit(StateChange{Old: old, New: next}))
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsDisconnecting reports whether the connection is stopped or stopping.
// Transports check it before scheduling further work.
func (c *Connection) IsDisconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisconnected || c.stopping
}

// EnsureReconnecting moves a connected connection to reconnecting and raises
// the reconnecting event. It reports whether the connection is now reconnecting.
func (c *Connection) EnsureReconnecting() bool {
	if c.ChangeState(StateConnected, StateReconnecting) {
		c.emit("reconnecting", c.reconnecting.Emit(struct{}{}))
	}
	return c.State() == StateReconnecting
}

// MarkReconnected moves a reconnecting connection back to connected and raises
// the reconnected event. It reports whether the transition happened.
func (c *Connection) MarkReconnected() bool {
	if !c.ChangeState(StateReconnecting, StateConnected) {
		return false
	}
	c.updateKeepAlive()
	c.metrics.Reconnected(c.TransportName())
	c.emit("reconnected", c.reconnected.Emit(struct{}{}))
	return true
}
