package domain

// Command is an outbound transport event issued by the session.
type Command interface {
	Name() string
}

type JoinRoomCommand struct {
	Room string `json:"room"`
}

func (JoinRoomCommand) Name() string { return "joinRoom" }

type LeaveRoomCommand struct {
	Room string `json:"room"`
}

func (LeaveRoomCommand) Name() string { return "leaveRoom" }

type RoomMessageCommand struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

func (RoomMessageCommand) Name() string { return "roomMessage" }

// DirectMessageCommand addresses the recipient by username only.
type DirectMessageCommand struct {
	TargetUsername string `json:"targetUsername"`
	Message        string `json:"message"`
}

func (DirectMessageCommand) Name() string { return "directMessage" }
