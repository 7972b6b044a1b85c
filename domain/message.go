// Package domain contains core concepts of the chat session.
// This file defines room and direct messages as seen by the client.
// Messages are immutable once appended to a ledger.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindRoom   MessageKind = "room"
	KindSystem MessageKind = "system"
)

// RoomMessage is a normalized room broadcast or system line.
type RoomMessage struct {
	Room      string
	Kind      MessageKind
	Sender    string // empty for system and plain lines
	Content   string
	Timestamp time.Time
}

// Text renders the message the way the room log shows it.
func (m RoomMessage) Text() string {
	switch {
	case m.Kind == KindSystem:
		return fmt.Sprintf("[System] %s", m.Content)
	case m.Sender != "":
		return fmt.Sprintf("[%s]: %s", m.Sender, m.Content)
	default:
		return m.Content
	}
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// DirectMessage is a pairwise message between the session user and a peer.
type DirectMessage struct {
	ID        uuid.UUID
	Content   string
	From      string
	To        string
	Timestamp time.Time
	Direction Direction
}

// MessageKey identifies a direct message event. Two messages sharing
// the same key are the same event.
type MessageKey struct {
	Timestamp int64 // unix nanoseconds, so keys compare regardless of location
	Content   string
	From      string
}

func (m DirectMessage) Key() MessageKey {
	return MessageKey{
		Timestamp: m.Timestamp.UnixNano(),
		Content:   m.Content,
		From:      m.From,
	}
}

// Peer is the other side of the conversation.
func (m DirectMessage) Peer() string {
	if m.Direction == DirectionSent {
		return m.To
	}
	return m.From
}

// NewSentMessage builds the optimistic entry recorded before the network call.
func NewSentMessage(from, to, content string, at time.Time) DirectMessage {
	return DirectMessage{
		ID:        uuid.New(),
		Content:   content,
		From:      from,
		To:        to,
		Timestamp: at,
		Direction: DirectionSent,
	}
}
