package hub

import (
	"errors"

	"github.com/google/uuid"
)

// Event names on the wire
const (
	EventSendMessage     = "sendMessage"
	EventNewMessage      = "newMessage"
	EventNewGroupMessage = "newGroupMessage"
	EventMessageSent     = "messageSent"
	EventUserStatus      = "userStatus"
	EventError           = "error"
)

// Presence states carried by userStatus events
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var (
	// ErrSendBufferFull is returned by Conn.Send when the peer is not draining its queue
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrConnClosed is returned by Conn.Send after the connection has closed
	ErrConnClosed = errors.New("connection closed")
)

// Event is the envelope for every frame exchanged with a client
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// UserStatus is the payload of a userStatus event
type UserStatus struct {
	UserID int64  `json:"userId"`
	Status string `json:"status"`
}

// ErrorPayload is the payload of an error event
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent builds an error event
func NewErrorEvent(code, message string) Event {
	return Event{Name: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

// Conn is a live, authenticated connection handle. Send must not block.
type Conn interface {
	ID() uuid.UUID
	UserID() int64
	Send(ev Event) error
}
