// Package transport carries session events over a websocket.
// Frames are JSON envelopes {"event": name, "data": payload}. Payloads
// are loosely typed on the wire (a string or an object for the same
// event); Decode normalizes every one of them into a domain/event type.
package transport

import (
	"chat-session/domain"
	"chat-session/domain/event"
	"chat-session/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode wraps an outbound command in an envelope.
func Encode(cmd domain.Command) ([]byte, error) {
	return json.Marshal(envelope{Event: cmd.Name(), Data: cmd})
}

// Decode parses one inbound frame. now supplies the timestamp for
// payloads that carry none.
func Decode(raw []byte, now func() time.Time) (event.Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", errors.ErrMalformedEvent)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: frame is not an object", errors.ErrMalformedEvent)
	}
	name := event.Name(root.Get("event").String())
	data := root.Get("data")

	switch name {
	case event.NameConnect:
		return event.Connected{UserID: data.Get("userId").String()}, nil
	case event.NameDisconnect:
		return event.Disconnected{Reason: textOf(data, "reason")}, nil
	case event.NameConnectError:
		return event.ConnectRejected{Message: textOf(data, "message")}, nil
	case event.NameMessage, event.NameRoomMessage:
		return decodeRoomMessage(data, now), nil
	case event.NameDirect:
		return decodeDirectMessage(data, now), nil
	case event.NameJoinedRoom:
		return event.RoomJoined{Room: textOf(data, "room")}, nil
	case event.NameLeftRoom:
		return event.RoomLeft{Room: textOf(data, "room")}, nil
	case event.NameError:
		failure := event.ServerFailure{Message: textOf(data, "message")}
		if data.IsObject() {
			failure.Code = data.Get("code").String()
		}
		if failure.Message == "" {
			failure.Message = "Unknown error"
		}
		return failure, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, name)
	}
}

// textOf returns the payload itself when it is a string, or the named
// field when it is an object.
func textOf(data gjson.Result, field string) string {
	if data.Type == gjson.String {
		return data.String()
	}
	return data.Get(field).String()
}

func decodeRoomMessage(data gjson.Result, now func() time.Time) event.RoomMessageReceived {
	if data.Type == gjson.String {
		return event.RoomMessageReceived{Kind: domain.KindRoom, Content: data.String(), Timestamp: now()}
	}

	msg := event.RoomMessageReceived{
		Room:      data.Get("room").String(),
		Kind:      domain.KindRoom,
		Sender:    data.Get("sender").String(),
		Content:   data.Get("content").String(),
		Timestamp: parseTimestamp(data.Get("timestamp"), now),
	}
	if data.Get("type").String() == string(domain.KindSystem) {
		msg.Kind = domain.KindSystem
		msg.Sender = ""
	}
	if msg.Content == "" {
		msg.Content = data.Raw
	}
	return msg
}

// decodeDirectMessage keeps the tag as sent; untagged payloads come out
// with an empty Tag and are discarded by the session.
func decodeDirectMessage(data gjson.Result, now func() time.Time) event.DirectMessageReceived {
	if !data.IsObject() {
		return event.DirectMessageReceived{Content: data.String(), Timestamp: now()}
	}

	content := data.Get("content").String()
	if content == "" {
		content = data.Get("message").String()
	}
	sender := data.Get("sender").String()
	if sender == "" {
		sender = "Unknown"
	}
	return event.DirectMessageReceived{
		Tag:       event.DirectTag(data.Get("type").String()),
		Sender:    sender,
		Target:    data.Get("targetUsername").String(),
		Content:   content,
		Timestamp: parseTimestamp(data.Get("timestamp"), now),
	}
}

// parseTimestamp accepts RFC 3339 strings and unix milliseconds.
func parseTimestamp(value gjson.Result, now func() time.Time) time.Time {
	switch value.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, value.String()); err == nil {
			return t
		}
	case gjson.Number:
		return time.UnixMilli(value.Int())
	}
	return now()
}
