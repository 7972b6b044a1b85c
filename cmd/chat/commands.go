package main

import (
	"chat-session/domain"
	"chat-session/errors"
	"chat-session/services"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

const usage = `/login <email> <password>
/register <email> <username> <password> <full name>
/restore                 resume the previous session
/logout
/join <room>
/leave [room]
/dm <user> <text>
/history [room]          replay a room
/me                      reload your profile
/status
/conversations
/quit
anything else is sent to the active room`

type command struct {
	name string
	args []string
	rest string // raw text after the name, for free-form arguments
}

// parseCommand splits a line typed by the user. Plain text becomes a
// "say" command.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", rest: line}
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	return command{name: strings.ToLower(name), args: strings.Fields(rest), rest: rest}
}

// restAfter returns the free-form text following the first n arguments.
func (c command) restAfter(n int) string {
	text := c.rest
	for i := 0; i < n; i++ {
		_, text, _ = strings.Cut(strings.TrimSpace(text), " ")
	}
	return strings.TrimSpace(text)
}

type shell struct {
	session        *services.Session
	term           *terminal
	requestTimeout time.Duration
}

// execute runs one command and reports whether the user asked to quit.
func (s *shell) execute(ctx context.Context, cmd command) bool {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	var err error
	switch cmd.name {
	case "say":
		if cmd.rest == "" {
			return false
		}
		err = s.session.SendRoomMessage("", cmd.rest)
	case "login":
		if len(cmd.args) != 2 {
			err = fmt.Errorf("%w: /login <email> <password>", errors.ErrInvalidRequest)
			break
		}
		err = s.welcome(s.session.Login(ctx, domain.LoginRequest{Email: cmd.args[0], Password: cmd.args[1]}))
	case "register":
		if len(cmd.args) < 4 {
			err = fmt.Errorf("%w: /register <email> <username> <password> <full name>", errors.ErrInvalidRequest)
			break
		}
		err = s.welcome(s.session.Register(ctx, domain.RegisterRequest{
			Email:    cmd.args[0],
			Username: cmd.args[1],
			Password: cmd.args[2],
			FullName: cmd.restAfter(3),
		}))
	case "restore":
		err = s.welcome(s.session.Restore(ctx))
	case "logout":
		err = s.session.Logout(ctx)
		if err == nil {
			s.term.info("Logged out")
		}
	case "join":
		if len(cmd.args) != 1 {
			err = fmt.Errorf("%w: /join <room>", errors.ErrInvalidRoom)
			break
		}
		err = s.session.JoinRoom(cmd.args[0])
	case "leave":
		err = s.session.LeaveRoom(cmd.rest)
	case "dm":
		if len(cmd.args) < 2 {
			err = fmt.Errorf("%w: /dm <user> <text>", errors.ErrInvalidRequest)
			break
		}
		_, err = s.session.SendDirectMessage(cmd.args[0], cmd.restAfter(1))
	case "history":
		room := lo.Ternary(cmd.rest != "", cmd.rest, s.session.ActiveRoom())
		for _, msg := range s.session.RoomMessages(room) {
			s.term.roomMessage(msg)
		}
	case "me":
		var user domain.User
		user, err = s.session.FetchCurrentUser(ctx)
		if err == nil {
			s.term.info("%s <%s> %s", user.Username, user.Email, user.FullName)
		}
	case "status":
		user, ok := s.session.CurrentUser()
		s.term.status(user, ok, s.session.State(), s.session.ActiveRoom(),
			len(s.session.Rooms()), len(s.session.Conversations()))
	case "conversations":
		s.term.conversations(conversationRows(s.session))
	case "help":
		s.term.info(usage)
	case "quit", "exit":
		return true
	default:
		s.term.info("Unknown command /%s, try /help", cmd.name)
	}

	if err != nil {
		s.term.fail(err)
	}
	return false
}

func (s *shell) welcome(user domain.User, err error) error {
	if user.Username != "" {
		s.term.info("Signed in as %s", user.Username)
	}
	return err
}

func conversationRows(session *services.Session) []conversationRow {
	return lo.FilterMap(session.Conversations(), func(peer string, _ int) (conversationRow, bool) {
		messages := session.DirectMessages(peer)
		last, ok := lo.Last(messages)
		return conversationRow{Peer: peer, Messages: len(messages), Last: last}, ok
	})
}
