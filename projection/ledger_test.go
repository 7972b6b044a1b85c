package projection

import (
	"chat-session/domain"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func received(from, content string, at time.Time) domain.DirectMessage {
	return domain.DirectMessage{
		ID:        uuid.New(),
		Content:   content,
		From:      from,
		To:        "alice",
		Timestamp: at,
		Direction: domain.DirectionReceived,
	}
}

func TestLedger_AppendDirect_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)
	msg := received("bob", "hello", base)

	// When the same event is appended twice, even under another local id
	req.True(ledger.AppendDirect(msg))
	duplicate := msg
	duplicate.ID = uuid.New()
	req.False(ledger.AppendDirect(duplicate))

	// Then the conversation holds one entry
	req.Len(ledger.Direct("bob"), 1)
	req.Equal(msg.ID, ledger.Direct("bob")[0].ID)
}

func TestLedger_AppendDirect_Orders_By_Timestamp(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)

	messages := make([]domain.DirectMessage, 0, 20)
	for i := range 20 {
		messages = append(messages, received("bob", "m", base.Add(time.Duration(i)*time.Second)))
	}
	shuffled := slicesShuffle(messages)

	// When they arrive in arbitrary order
	for _, msg := range shuffled {
		req.True(ledger.AppendDirect(msg))
	}

	// Then the conversation is ascending by timestamp
	conversation := ledger.Direct("bob")
	req.Len(conversation, 20)
	req.IsNonDecreasing(lo.Map(conversation, func(m domain.DirectMessage, _ int) int64 {
		return m.Timestamp.UnixNano()
	}))
}

func TestLedger_AppendDirect_Ties_Keep_Arrival_Order(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)

	first := received("bob", "first", base)
	second := received("bob", "second", base)
	earlier := received("bob", "earlier", base.Add(-time.Second))

	ledger.AppendDirect(first)
	ledger.AppendDirect(second)
	ledger.AppendDirect(earlier)

	contents := lo.Map(ledger.Direct("bob"), func(m domain.DirectMessage, _ int) string { return m.Content })
	req.Equal([]string{"earlier", "first", "second"}, contents)
}

func TestLedger_Sent_Message_Is_Filed_Under_Recipient(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)

	sent := domain.NewSentMessage("alice", "bob", "hi bob", base)
	reply := received("bob", "hi alice", base.Add(time.Second))
	ledger.AppendDirect(sent)
	ledger.AppendDirect(reply)

	req.Equal([]string{"bob"}, ledger.Conversations())
	conversation := ledger.Direct("bob")
	req.Len(conversation, 2)
	req.Equal(domain.DirectionSent, conversation[0].Direction)
	req.Equal(domain.DirectionReceived, conversation[1].Direction)
}

func TestLedger_AppendRoom(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)

	later := domain.RoomMessage{Room: "general", Kind: domain.KindRoom, Sender: "bob", Content: "later", Timestamp: base.Add(time.Minute)}
	sooner := domain.RoomMessage{Room: "general", Kind: domain.KindRoom, Sender: "bob", Content: "sooner", Timestamp: base}
	other := domain.RoomMessage{Room: "random", Kind: domain.KindSystem, Content: "Joined room: random", Timestamp: base}

	ledger.AppendRoom(later)
	ledger.AppendRoom(sooner)
	ledger.AppendRoom(sooner)
	ledger.AppendRoom(other)

	general := ledger.Room("general")
	req.Len(general, 3)
	req.Equal("sooner", general[0].Content)
	req.Equal("later", general[2].Content)
	req.Equal([]string{"general", "random"}, ledger.Rooms())
}

func TestLedger_Reads_Are_Copies(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)
	ledger.AppendDirect(received("bob", "hello", base))

	conversation := ledger.Direct("bob")
	conversation[0].Content = "tampered"

	req.Equal("hello", ledger.Direct("bob")[0].Content)
}

func TestLedger_Reset(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(nil)
	msg := received("bob", "hello", base)
	ledger.AppendDirect(msg)
	ledger.AppendRoom(domain.RoomMessage{Room: "general", Content: "hi", Timestamp: base})

	ledger.Reset()

	req.Empty(ledger.Rooms())
	req.Empty(ledger.Conversations())
	req.True(ledger.AppendDirect(msg))
}

func slicesShuffle(in []domain.DirectMessage) []domain.DirectMessage {
	out := append([]domain.DirectMessage(nil), in...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
