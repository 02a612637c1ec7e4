// ABOUTME: Tests for notification subjects, fan-out, and the Matrix formatter
// ABOUTME: The Matrix client is replaced with a recording fake

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

func TestEvent_Subject(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: KindTicketCreated, Title: "VPN down"}, "New Ticket: VPN down"},
		{Event{Kind: KindMessageSent, TicketID: "abc-123"}, "New Message on Ticket abc-123"},
		{Event{Kind: KindUserSignup, UserName: "Alice"}, "New User Registration: Alice. Approval needed."},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Subject())
		})
	}
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti_DeliversToAllDespiteFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	m := NewMulti(nil, failing, nil, ok, NewLogNotifier(nil), Nop{})

	err := m.Notify(t.Context(), Event{Kind: KindUserSignup, UserName: "Bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)

	failing.err = nil
	assert.NoError(t, m.Notify(t.Context(), Event{Kind: KindUserSignup}))
}

type fakeRoomSender struct {
	room id.RoomID
	text string
	err  error
}

func (f *fakeRoomSender) SendText(_ context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.room = roomID
	f.text = text
	return &mautrix.RespSendEvent{}, f.err
}

func TestMatrixNotifier(t *testing.T) {
	sender := &fakeRoomSender{}
	n := newMatrixNotifier(sender, MatrixConfig{RoomID: "!ops:example.org", BaseURL: "https://help.example.com/"}, nil)

	err := n.Notify(t.Context(), Event{
		Kind:     KindTicketCreated,
		TicketID: "t-1",
		Title:    "Printer jam",
		Preview:  strings.Repeat("x", 300),
	})
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!ops:example.org"), sender.room)

	lines := strings.Split(sender.text, "\n")
	assert.Equal(t, "New Ticket: Printer jam", lines[0])
	assert.Equal(t, strings.Repeat("x", 200)+"...", lines[2])
	assert.Equal(t, "https://help.example.com/tickets/t-1", lines[3])

	sender.err = errors.New("forbidden")
	assert.Error(t, n.Notify(t.Context(), Event{Kind: KindUserSignup, UserName: "Zed"}))
	assert.Equal(t, "New User Registration: Zed. Approval needed.", sender.text)
}
