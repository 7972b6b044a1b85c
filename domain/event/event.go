// Package event holds the tagged inbound transport events.
// Every payload the server sends is normalized into one of these types
// before it reaches the session.
package event

import (
	"chat-session/domain"
	"time"
)

type Name string

const (
	NameConnect      Name = "connect"
	NameDisconnect   Name = "disconnect"
	NameConnectError Name = "connect_error"
	NameMessage      Name = "message"
	NameRoomMessage  Name = "roomMessage"
	NameDirect       Name = "directMessage"
	NameJoinedRoom   Name = "joinedRoom"
	NameLeftRoom     Name = "leftRoom"
	NameError        Name = "error"
)

type Event interface {
	EventName() Name
}

// Connected is the server acknowledgement of an authenticated connection.
type Connected struct {
	UserID string
}

func (Connected) EventName() Name { return NameConnect }

// Disconnected is sent by the server before it drops the connection.
type Disconnected struct {
	Reason string
}

func (Disconnected) EventName() Name { return NameDisconnect }

// ConnectRejected is the server refusing the handshake.
type ConnectRejected struct {
	Message string
}

func (ConnectRejected) EventName() Name { return NameConnectError }

// Unauthorized reports whether the rejection asks for a new credential.
func (c ConnectRejected) Unauthorized() bool {
	return c.Message == "Unauthorized"
}

// RoomMessageReceived is a room broadcast. Room may be empty when the
// server did not say which room it belongs to.
type RoomMessageReceived struct {
	Room      string
	Kind      domain.MessageKind
	Sender    string
	Content   string
	Timestamp time.Time
}

func (RoomMessageReceived) EventName() Name { return NameRoomMessage }

type DirectTag string

const (
	TagPrivate     DirectTag = "private"
	TagPrivateSent DirectTag = "private-sent"
)

type DirectMessageReceived struct {
	Tag       DirectTag
	Sender    string
	Target    string
	Content   string
	Timestamp time.Time
}

func (DirectMessageReceived) EventName() Name { return NameDirect }

type RoomJoined struct {
	Room string
}

func (RoomJoined) EventName() Name { return NameJoinedRoom }

type RoomLeft struct {
	Room string
}

func (RoomLeft) EventName() Name { return NameLeftRoom }

// ServerFailure carries an error event, Code may be empty.
type ServerFailure struct {
	Code    string
	Message string
}

func (ServerFailure) EventName() Name { return NameError }
