package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peercall/config"
	"github.com/mossy-p/peercall/internal/models"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "room:abc", roomKey("abc"))
	require.Equal(t, "code:ABCD23", codeKey("ABCD23"))
	require.Equal(t, "room:abc:peers", peersKey("abc"))
	require.Equal(t, "signal:abc", SignalChannel("abc"))
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect(context.Background(), config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func testRoom() *models.RoomMetadata {
	return &models.RoomMetadata{
		ID:         "8f14e45f-ceea-4e7a-9d0c-6f2b1f3a1c11",
		Code:       "ABCD23",
		CreatorID:  "alice",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		MaxPlayers: 2,
	}
}

func TestConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, config.RedisConfig{Host: host, Port: port})
	require.ErrorContains(t, err, "failed to connect to Redis")
}

func TestRoomLifecycle(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	room := testRoom()

	_, err := c.GetRoom(ctx, room.ID)
	require.ErrorIs(t, err, ErrRoomNotFound)
	_, err = c.ResolveRoomID(ctx, room.Code)
	require.ErrorIs(t, err, ErrRoomNotFound)

	require.NoError(t, c.SaveRoom(ctx, room))
	require.Equal(t, RoomTTL, mr.TTL(roomKey(room.ID)))
	require.Equal(t, RoomTTL, mr.TTL(codeKey(room.Code)))

	id, err := c.ResolveRoomID(ctx, room.Code)
	require.NoError(t, err)
	require.Equal(t, room.ID, id)

	// Anything not code-shaped passes through as an ID.
	id, err = c.ResolveRoomID(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, room.ID, id)

	got, err := c.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, room.Code, got.Code)
	require.Equal(t, "alice", got.CreatorID)
	require.Equal(t, 2, got.MaxPlayers)
	require.True(t, room.CreatedAt.Equal(got.CreatedAt))
	require.Zero(t, got.PlayerCount)

	require.NoError(t, c.AddPeer(ctx, room.ID, "alice"))
	require.NoError(t, c.DeleteRoom(ctx, room))
	require.False(t, mr.Exists(roomKey(room.ID)))
	require.False(t, mr.Exists(codeKey(room.Code)))
	require.False(t, mr.Exists(peersKey(room.ID)))

	_, err = c.GetRoom(ctx, room.ID)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestGetRoomRejectsCorruptData(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, mr.Set(roomKey("broken"), "{not json"))

	_, err := c.GetRoom(context.Background(), "broken")
	require.ErrorContains(t, err, "failed to parse room data")
}

func TestPeerSet(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	room := testRoom()
	require.NoError(t, c.SaveRoom(ctx, room))

	require.NoError(t, c.AddPeer(ctx, room.ID, "alice"))
	require.NoError(t, c.AddPeer(ctx, room.ID, "bob"))
	require.NoError(t, c.AddPeer(ctx, room.ID, "alice"))
	require.Equal(t, RoomTTL, mr.TTL(peersKey(room.ID)))

	n, err := c.PeerCount(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := c.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.PlayerCount)
	require.True(t, got.IsFull())

	present, err := c.HasPeer(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.True(t, present)
	present, err = c.HasPeer(ctx, room.ID, "mallory")
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, c.RemovePeer(ctx, room.ID, "bob"))
	present, err = c.HasPeer(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.False(t, present)
	got, err = c.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.PlayerCount)

	// An abandoned peer set expires with the room.
	mr.FastForward(RoomTTL + time.Second)
	n, err = c.PeerCount(ctx, room.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSubscribeDelivers(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer sub.Close()

	// Active on return: a publish right away is not lost.
	require.Equal(t, 1, mr.PubSubNumSub(SignalChannel("room-1"))[SignalChannel("room-1")])
	require.NoError(t, c.Publish(ctx, "room-1", []byte(`{"type":"ready"}`)))
	require.NoError(t, c.Publish(ctx, "room-2", []byte(`{"type":"terminated"}`)))
	require.NoError(t, c.Publish(ctx, "room-1", []byte(`{"type":"terminated"}`)))

	for _, want := range []string{`{"type":"ready"}`, `{"type":"terminated"}`} {
		select {
		case payload := <-sub.Messages():
			require.Equal(t, want, string(payload))
		case <-time.After(2 * time.Second):
			t.Fatalf("did not receive %s", want)
		}
	}

	select {
	case payload := <-sub.Messages():
		t.Fatalf("unexpected message %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionClose(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	channel := SignalChannel("room-1")

	sub, err := c.Subscribe(ctx, "room-1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	// Messages drains and closes once the subscription ends.
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case _, ok := <-sub.Messages():
			done = !ok
		case <-deadline:
			t.Fatal("messages channel was not closed")
		}
	}

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Publish(ctx, "room-1", []byte(`{"type":"ready"}`)))
}

func TestSubscribeFailsOnClosedServer(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Subscribe(ctx, "room-1")
	require.ErrorContains(t, err, "failed to subscribe")
}
