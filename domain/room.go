package domain

import "time"

func JoinedRoomMessage(room string, at time.Time) RoomMessage {
	return RoomMessage{Room: room, Kind: KindSystem, Content: "Joined room: " + room, Timestamp: at}
}

func LeftRoomMessage(room string, at time.Time) RoomMessage {
	return RoomMessage{Room: room, Kind: KindSystem, Content: "Left room: " + room, Timestamp: at}
}
