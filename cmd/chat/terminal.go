package main

import (
	"chat-session/domain"
	"chat-session/errors"
	"chat-session/moderation"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// terminal renders session notifications. Writes are serialized because
// notifications arrive from the connection goroutines.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	filter  moderation.MuteFilter
	colours bool
}

func newTerminal(out io.Writer, filter moderation.MuteFilter, colours bool) *terminal {
	return &terminal{out: out, filter: filter, colours: colours}
}

func (t *terminal) paint(style color.Style, text string) string {
	if !t.colours {
		return text
	}
	return style.Render(text)
}

func (t *terminal) println(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.out, text)
}

func (t *terminal) info(format string, args ...any) {
	t.println(t.paint(color.New(color.FgCyan), fmt.Sprintf(format, args...)))
}

func (t *terminal) fail(err error) {
	t.println(t.paint(color.New(color.FgRed), "! "+describe(err)))
}

func (t *terminal) roomMessage(msg domain.RoomMessage) {
	msg = t.filter.RoomMessage(msg)
	line := fmt.Sprintf("%s #%s %s", msg.Timestamp.Format(time.TimeOnly), msg.Room, msg.Text())
	if msg.Kind == domain.KindSystem {
		line = t.paint(color.New(color.FgYellow), line)
	}
	t.println(line)
}

func (t *terminal) directMessage(msg domain.DirectMessage) {
	msg = t.filter.DirectMessage(msg)
	arrow := fmt.Sprintf("%s -> %s", msg.From, msg.To)
	if msg.Direction == domain.DirectionReceived {
		arrow = fmt.Sprintf("%s <- %s", msg.To, msg.From)
	}
	line := fmt.Sprintf("%s [dm %s] %s", msg.Timestamp.Format(time.TimeOnly), arrow, msg.Content)
	t.println(t.paint(color.New(color.FgMagenta), line))
}

func (t *terminal) stateChange(change domain.StateChange) {
	line := fmt.Sprintf("~ %s -> %s", change.From, change.To)
	style := color.New(color.FgGreen)
	if change.Err != nil {
		line = fmt.Sprintf("%s (%s)", line, describe(change.Err))
		style = color.New(color.FgRed)
	}
	if change.To == domain.Failed && errors.Is(change.Err, errors.ErrSessionExpired) {
		line += "; use /login to sign in again"
	}
	t.println(t.paint(style, line))
}

// status prints a one-row table of the session.
func (t *terminal) status(user domain.User, loggedIn bool, state domain.ConnectionState, room string, rooms, conversations int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	username := "-"
	if loggedIn {
		username = user.Username
	}
	if room == "" {
		room = "-"
	}
	table := newTable(t.out, []string{"User", "State", "Active room", "Rooms", "Conversations"})
	table.Append([]string{username, state.String(), room, strconv.Itoa(rooms), strconv.Itoa(conversations)})
	table.Render()
}

type conversationRow struct {
	Peer     string
	Messages int
	Last     domain.DirectMessage
}

func (t *terminal) conversations(rows []conversationRow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := newTable(t.out, []string{"Peer", "Messages", "Last", "At"})
	for _, row := range rows {
		last := t.filter.DirectMessage(row.Last)
		table.Append([]string{row.Peer, strconv.Itoa(row.Messages), last.Content, last.Timestamp.Format(time.TimeOnly)})
	}
	table.Render()
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// describe turns session errors into short user-facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, errors.ErrSessionExpired):
		return "session expired"
	case errors.Is(err, errors.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, errors.ErrNotConnected):
		return "not connected"
	case errors.Is(err, errors.ErrNotAuthenticated):
		return "not logged in"
	case errors.Is(err, errors.ErrTargetNotFound):
		return "no such user"
	case errors.Is(err, errors.ErrTargetOffline):
		return "user is offline, message kept as sent"
	case errors.Is(err, errors.ErrInvalidRoom):
		return "invalid room"
	case errors.Is(err, errors.ErrRateLimited):
		return "slow down, rate limited"
	case errors.Is(err, errors.ErrNetworkUnavailable):
		return "network unavailable"
	default:
		return err.Error()
	}
}
