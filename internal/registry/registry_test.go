package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RoomOfFollowsLatestJoin(t *testing.T) {
	r := New()

	_, ok := r.RoomOf("a")
	assert.False(t, ok, "fresh connection must have no room")

	steps := []struct {
		op   string
		room string
		want string
	}{
		{op: "join", room: "lobby", want: "lobby"},
		{op: "join", room: "games", want: "games"},
		{op: "join", room: "games", want: "games"},
		{op: "leave", want: ""},
		{op: "leave", want: ""},
		{op: "join", room: "lobby", want: "lobby"},
		{op: "join", room: "  ", want: "lobby"},
	}

	for i, s := range steps {
		switch s.op {
		case "join":
			_ = r.Join("a", s.room)
		case "leave":
			r.Leave("a")
		}
		room, ok := r.RoomOf("a")
		if s.want == "" {
			assert.False(t, ok, "step %d", i)
			continue
		}
		require.True(t, ok, "step %d", i)
		assert.Equal(t, s.want, room, "step %d", i)
	}
}

func TestRegistry_JoinRejectsBlankNames(t *testing.T) {
	tests := []struct {
		name string
		room string
	}{
		{name: "empty", room: ""},
		{name: "spaces", room: "   "},
		{name: "tabs and newlines", room: "\t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			require.NoError(t, r.Join("a", "lobby"))

			err := r.Join("a", tt.room)
			assert.ErrorIs(t, err, ErrInvalidRoomName)

			room, ok := r.RoomOf("a")
			assert.True(t, ok)
			assert.Equal(t, "lobby", room)
		})
	}
}

func TestRegistry_SwitchingRoomsMovesMembership(t *testing.T) {
	r := New()
	require.NoError(t, r.Join("a", "r1"))
	require.NoError(t, r.Join("b", "r1"))

	require.NoError(t, r.Join("a", "r2"))

	assert.ElementsMatch(t, []string{"b"}, r.MembersOf("r1"))
	assert.ElementsMatch(t, []string{"a"}, r.MembersOf("r2"))
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Join("a", "lobby"))
	require.NoError(t, r.Join("a", "lobby"))

	assert.Equal(t, []string{"a"}, r.MembersOf("lobby"))
	rooms, members := r.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, members)
}

func TestRegistry_LeavePrunesEmptyRooms(t *testing.T) {
	r := New()
	require.NoError(t, r.Join("a", "lobby"))
	require.NoError(t, r.Join("b", "lobby"))

	room, ok := r.Leave("a")
	assert.True(t, ok)
	assert.Equal(t, "lobby", room)
	assert.Equal(t, map[string]int{"lobby": 1}, r.Rooms())

	r.Leave("b")
	assert.Empty(t, r.Rooms())

	_, ok = r.Leave("b")
	assert.False(t, ok, "second leave must be a no-op")
}

func TestRegistry_MembersOfReturnsSnapshot(t *testing.T) {
	r := New()

	unknown := r.MembersOf("nowhere")
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)

	require.NoError(t, r.Join("a", "lobby"))
	require.NoError(t, r.Join("b", "lobby"))
	snapshot := r.MembersOf("lobby")

	r.Leave("a")
	require.NoError(t, r.Join("c", "lobby"))

	assert.ElementsMatch(t, []string{"a", "b"}, snapshot)
	assert.ElementsMatch(t, []string{"b", "c"}, r.MembersOf("lobby"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := New()
	rooms := []string{"r0", "r1", "r2"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.Join(id, rooms[j%len(rooms)])
				_ = r.MembersOf(rooms[(j+1)%len(rooms)])
				if j%7 == 0 {
					r.Leave(id)
				}
			}
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	seen := make(map[string]string)
	for room := range r.Rooms() {
		for _, id := range r.MembersOf(room) {
			prev, dup := seen[id]
			require.False(t, dup, "connection %s in both %s and %s", id, prev, room)
			seen[id] = room

			current, ok := r.RoomOf(id)
			require.True(t, ok)
			assert.Equal(t, room, current)
		}
	}
	_, members := r.Stats()
	assert.Equal(t, len(seen), members)
}
