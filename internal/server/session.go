package server

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/gochat-relay/internal/envelope"
)

// SessionState is the lifecycle state of one connection.
type SessionState int32

// A connection starts unnamed, becomes named after its first accepted
// setUsername, and ends disconnected. Disconnected is terminal.
const (
	StateUnnamed SessionState = iota
	StateNamed
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateUnnamed:
		return "unnamed"
	case StateNamed:
		return "named"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// State returns the connection's current lifecycle state.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// HandleFrame decodes one inbound frame and dispatches it. Frames that cannot
// be decoded, unknown events, and events arriving after disconnect are
// logged and dropped.
func (c *Client) HandleFrame(raw []byte) {
	if c.State() == StateDisconnected {
		return
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.WithError(err).Warn("invalid frame")
		return
	}

	switch frame.Event {
	case EventSetUsername:
		c.setUsername(frame.Data)
	case EventSendMessage:
		c.sendMessage(frame.Data)
	default:
		c.log.WithField("event", frame.Event).Warn("unknown event")
	}
}

func (c *Client) setUsername(data json.RawMessage) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		c.log.WithError(err).Warn("setUsername payload is not a string")
		return
	}

	if !c.hub.SetName(c.id, name) {
		c.log.Debug("ignoring blank or late display name")
		return
	}

	// renaming keeps a named session named
	c.state.CompareAndSwap(int32(StateUnnamed), int32(StateNamed))
	c.log.WithField("username", c.hub.ResolveName(c.id)).Info("username set")
}

// sendMessage resolves the sender's name now, so a later rename never
// changes what recipients see for this message.
func (c *Client) sendMessage(data json.RawMessage) {
	in, err := envelope.DecodeInput(data)
	if err != nil {
		c.log.WithError(err).Warn("dropping undecodable message")
		return
	}

	sender := c.hub.ResolveName(c.id)
	env, err := envelope.Build(in, sender, nil)
	if err != nil {
		c.log.WithError(err).WithField("username", sender).Debug("message rejected")
		return
	}

	c.log.WithFields(log.Fields{
		"username": env.Username,
		"type":     env.Kind,
	}).Debug("message accepted")

	if !c.hub.Broadcast(env) {
		c.log.Debug("hub stopped; message dropped")
	}
}

// Disconnect moves the connection to its terminal state and asks the hub to
// forget it. Calling it more than once is harmless.
func (c *Client) Disconnect() {
	if SessionState(c.state.Swap(int32(StateDisconnected))) == StateDisconnected {
		return
	}
	c.hub.Unregister(c)
}
