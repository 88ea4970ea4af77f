package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/session"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	return NewClient(nil, NewHub(nil, nil, nil), "127.0.0.1:12345", session.Identity{Subject: "tester"}, cfg)
}

// TestNewClientAssignsUniqueIDs verifies ids are assigned once and differ
// across clients.
func TestNewClientAssignsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		c := newTestClient(t, *NewConfig())
		require.NotEmpty(t, c.ID())
		require.False(t, seen[c.ID()], "duplicate id %s", c.ID())
		seen[c.ID()] = true
		assert.Equal(t, c.ID(), c.ID())
	}
}

func TestClientIdentity(t *testing.T) {
	c := newTestClient(t, *NewConfig())
	assert.Equal(t, "tester", c.Identity().Subject)
}

// TestClientSendQueue verifies Send never blocks and reports a full queue.
func TestClientSendQueue(t *testing.T) {
	cfg := *NewConfig()
	cfg.SendBufferSize = 2
	c := newTestClient(t, cfg)

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))

	done := make(chan error, 1)
	go func() { done <- c.Send([]byte("three")) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSendQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}

	assert.Equal(t, []byte("one"), <-c.GetSendChan())
}

// TestClientClose verifies Close is idempotent and later sends fail.
func TestClientClose(t *testing.T) {
	c := newTestClient(t, *NewConfig())
	require.NoError(t, c.Send([]byte("queued")))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send([]byte("late")), ErrConnectionClosed)

	msg, ok := <-c.GetSendChan()
	assert.True(t, ok)
	assert.Equal(t, []byte("queued"), msg)
	_, ok = <-c.GetSendChan()
	assert.False(t, ok, "send channel must be closed")
}

// TestClientProcessMessageRoutesEvents verifies inbound frames become hub
// events in order.
func TestClientProcessMessageRoutesEvents(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	c := NewClient(nil, hub, "addr", session.Identity{Subject: "x"}, *NewConfig())

	frames := []string{
		`{"event":"join-room","room":"lobby"}`,
		`{"event":"message","message":"hi"}`,
		`{"event":"message","message":"there","room":"other"}`,
		`{"event":"leave-room"}`,
	}
	for _, f := range frames {
		require.NoError(t, c.processMessage([]byte(f)))
	}

	want := []event{
		{kind: eventJoin, connID: c.ID(), room: "lobby"},
		{kind: eventMessage, connID: c.ID(), body: "hi"},
		{kind: eventMessage, connID: c.ID(), body: "there", room: "other"},
		{kind: eventLeave, connID: c.ID()},
	}
	for _, w := range want {
		select {
		case got := <-hub.events:
			assert.Equal(t, w, got)
		default:
			t.Fatalf("missing event %+v", w)
		}
	}
}

// TestClientProcessMessageRejectsBadFrames verifies malformed input is
// answered with an error frame and never reaches the hub.
func TestClientProcessMessageRejectsBadFrames(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	c := NewClient(nil, hub, "addr", session.Identity{}, *NewConfig())

	require.NoError(t, c.processMessage([]byte("{oops")))
	require.NoError(t, c.processMessage([]byte(`{"event":"shout"}`)))

	assert.Len(t, hub.events, 0)
	assert.Len(t, c.GetSendChan(), 2)
}

// TestClientProcessMessageAfterShutdown verifies a closed hub is reported so
// the read pump can stop.
func TestClientProcessMessageAfterShutdown(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	require.NoError(t, hub.Shutdown(time.Second))
	c := NewClient(nil, hub, "addr", session.Identity{}, *NewConfig())

	err := c.processMessage([]byte(`{"event":"message","message":"hi"}`))
	assert.ErrorIs(t, err, ErrHubClosed)
}
