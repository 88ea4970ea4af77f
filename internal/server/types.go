// Package server defines the wire protocol exchanged with clients and utility
// helpers that are reused across client and hub logic.
package server

import (
	"errors"
	"strings"
)

// Inbound event names.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
	EventMessage   = "message"
)

// Outbound event names.
const (
	EventReceiveMessage = "receive-message"
	EventConnected      = "connected"
	EventError          = "error"
)

var (
	// ErrUnroutedMessage is returned when a message has no explicit room and
	// its sender is not in a room. Such messages are dropped.
	ErrUnroutedMessage = errors.New("message has no room to route to")
	// ErrUnknownConnection is returned for events naming a connection the hub
	// has not admitted.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrSendQueueFull is returned by Client.Send when the peer is not
	// draining its queue fast enough.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnectionClosed is returned by Client.Send after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrHubClosed is returned when submitting to a hub that has shut down.
	ErrHubClosed = errors.New("hub closed")
	// ErrUnknownEvent is reported to a client that sends an event name the
	// relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// InboundMessage is the JSON frame a client sends. Room is optional for
// "message" events; when empty the sender's current room is used.
type InboundMessage struct {
	Event   string `json:"event"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReceivedMessage is delivered to every room member except the sender.
type ReceivedMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	SID     string `json:"sid"`
}

// ConnectedMessage tells a client its own connection id once admitted.
type ConnectedMessage struct {
	Event string `json:"event"`
	SID   string `json:"sid"`
}

// ErrorMessage reports a rejected event back to its sender only.
type ErrorMessage struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
