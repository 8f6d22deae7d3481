package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Ibragimm228/realtimechat/internal/models"
	"github.com/Ibragimm228/realtimechat/internal/store/storetest"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server, client := storetest.New(t)
	return NewRedisStoreFromClient(client), server
}

func createRoom(t *testing.T, s *RedisStore, id string, capacity int, ttl time.Duration) {
	t.Helper()
	err := s.CreateRoom(context.Background(), &models.Room{
		ID:        id,
		Capacity:  capacity,
		CreatedAt: time.Now().UnixMilli(),
	}, ttl)
	require.NoError(t, err)
}

func TestRedisStore_CreateAndGetRoom(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	createRoom(t, s, "room-1", 3, 10*time.Minute)

	room, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, 3, room.Capacity)
	require.Empty(t, room.Connected)
	require.NotZero(t, room.CreatedAt)

	require.Equal(t, `[]`, server.HGet("meta:room-1", "connected"))
	require.Equal(t, 10*time.Minute, server.TTL("meta:room-1"))

	missing, err := s.GetRoom(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRedisStore_RoomTTL(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	createRoom(t, s, "room-ttl", 2, 60*time.Second)

	ttl, err := s.RoomTTL(ctx, "room-ttl")
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, ttl)

	server.FastForward(20 * time.Second)
	later, err := s.RoomTTL(ctx, "room-ttl")
	require.NoError(t, err)
	require.LessOrEqual(t, later, ttl)
	require.Equal(t, 40*time.Second, later)

	server.FastForward(time.Minute)
	expired, err := s.RoomTTL(ctx, "room-ttl")
	require.NoError(t, err)
	require.Zero(t, expired)

	unknown, err := s.RoomTTL(ctx, "never-created")
	require.NoError(t, err)
	require.Zero(t, unknown)
}

func TestRedisStore_AdmitToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "room-admit", 2, time.Minute)

	res, err := s.AdmitToken(ctx, "room-admit", "tokA")
	require.NoError(t, err)
	require.Equal(t, models.Admitted, res)

	// Re-admission is idempotent
	res, err = s.AdmitToken(ctx, "room-admit", "tokA")
	require.NoError(t, err)
	require.Equal(t, models.Admitted, res)

	res, err = s.AdmitToken(ctx, "room-admit", "tokB")
	require.NoError(t, err)
	require.Equal(t, models.Admitted, res)

	res, err = s.AdmitToken(ctx, "room-admit", "tokC")
	require.NoError(t, err)
	require.Equal(t, models.RoomFull, res)

	room, err := s.GetRoom(ctx, "room-admit")
	require.NoError(t, err)
	require.Equal(t, []string{"tokA", "tokB"}, room.Connected)

	res, err = s.AdmitToken(ctx, "missing-room", "tokA")
	require.NoError(t, err)
	require.Equal(t, models.RoomNotFound, res)
}

func TestRedisStore_AdmitToken_KeepsTTL(t *testing.T) {
	s, server := newTestStore(t)
	createRoom(t, s, "room-keep", 2, time.Minute)

	_, err := s.AdmitToken(context.Background(), "room-keep", "tokA")
	require.NoError(t, err)
	require.Equal(t, time.Minute, server.TTL("meta:room-keep"))
}

func TestRedisStore_AdmitToken_ConcurrentLastSlot(t *testing.T) {
	// 17 and 50 sit above the fixed attempt budget; 50 is the largest
	// capacity the default config accepts.
	for _, capacity := range []int{1, 2, 5, 17, 50} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			for run := 0; run < 5; run++ {
				admitted, full, errs := raceAdmissions(t, capacity, capacity+1)
				require.Empty(t, errs, "run %d", run)
				require.Equal(t, capacity, admitted, "run %d", run)
				require.Equal(t, 1, full, "run %d", run)
			}
		})
	}
}

// raceAdmissions admits contenders distinct tokens at once into a fresh room
// and checks that the membership list matches the admitted count.
func raceAdmissions(t *testing.T, capacity, contenders int) (admitted, full int, errs []error) {
	t.Helper()
	s, _ := newTestStore(t)
	ctx := context.Background()
	createRoom(t, s, "room-race", capacity, time.Minute)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := s.AdmitToken(ctx, "room-race", fmt.Sprintf("token-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case res == models.Admitted:
				admitted++
			case res == models.RoomFull:
				full++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	room, err := s.GetRoom(ctx, "room-race")
	require.NoError(t, err)
	require.Len(t, room.Connected, admitted)
	return admitted, full, errs
}

func TestRedisStore_Messages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		err := s.AppendMessage(ctx, &models.Message{
			ID: id, RoomID: "room-msg", Sender: "Alice", Text: "ct", Timestamp: int64(i), Token: "tokA",
		})
		require.NoError(t, err)
	}

	messages, err := s.ListMessages(ctx, "room-msg")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "m1", messages[0].ID)
	require.Equal(t, "m3", messages[2].ID)
	require.Equal(t, "tokA", messages[0].Token)

	removed, err := s.RemoveMessage(ctx, "room-msg", "m2")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.RemoveMessage(ctx, "room-msg", "m2")
	require.NoError(t, err)
	require.False(t, removed)

	messages, err = s.ListMessages(ctx, "room-msg")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "m1", messages[0].ID)
	require.Equal(t, "m3", messages[1].ID)
}

func TestRedisStore_RemoveMessage_FirstMatchOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Two entries sharing an id differ by payload; only the first goes
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "dup", RoomID: "r", Text: "first"}))
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "dup", RoomID: "r", Text: "second"}))

	removed, err := s.RemoveMessage(ctx, "r", "dup")
	require.NoError(t, err)
	require.True(t, removed)

	messages, err := s.ListMessages(ctx, "r")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "second", messages[0].Text)
}

func TestRedisStore_BindName_FirstWriterWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	name, err := s.BindName(ctx, "room", "tokA", "Alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	name, err = s.BindName(ctx, "room", "tokA", "Mallory")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	name, err = s.LookupName(ctx, "room", "tokA")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	name, err = s.LookupName(ctx, "room", "tokB")
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestRedisStore_SyncTTL(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	createRoom(t, s, "room-sync", 2, time.Minute)
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "m1", RoomID: "room-sync"}))
	_, err := s.BindName(ctx, "room-sync", "tokA", "Alice")
	require.NoError(t, err)
	server.Set("history:room-sync", "x")

	server.FastForward(15 * time.Second)

	remaining, err := s.SyncTTL(ctx, "room-sync")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, remaining)

	for _, key := range []string{"messages:room-sync", "users:room-sync", "history:room-sync"} {
		require.Equal(t, 45*time.Second, server.TTL(key), key)
	}
}

func TestRedisStore_SyncTTL_ExpiredRoom(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "m1", RoomID: "gone"}))
	_, err := s.BindName(ctx, "gone", "tokA", "Alice")
	require.NoError(t, err)

	remaining, err := s.SyncTTL(ctx, "gone")
	require.NoError(t, err)
	require.Zero(t, remaining)
	// Orphaned dependents are dropped
	require.False(t, server.Exists("messages:gone"))
	require.False(t, server.Exists("users:gone"))
}

func TestRedisStore_DeleteRoom(t *testing.T) {
	s, server := newTestStore(t)
	ctx := context.Background()

	createRoom(t, s, "room-del", 2, time.Minute)
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "m1", RoomID: "room-del"}))
	_, err := s.BindName(ctx, "room-del", "tokA", "Alice")
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoom(ctx, "room-del"))

	for _, key := range RoomKeys("room-del") {
		require.False(t, server.Exists(key), key)
	}

	exists, err := s.RoomExists(ctx, "room-del")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRedisStore_StoreErrors(t *testing.T) {
	s, server := newTestStore(t)
	server.Close()

	_, err := s.GetRoom(context.Background(), "room")
	require.Error(t, err)

	err = s.DeleteRoom(context.Background(), "room")
	require.Error(t, err)
}

func TestEmbedded_ExpiresKeys(t *testing.T) {
	e, err := StartEmbedded()
	require.NoError(t, err)
	defer e.Close()

	s := NewRedisStoreFromClient(e.Client())
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	createRoom(t, s, "room-emb", 2, time.Second)
	require.Eventually(t, func() bool {
		exists, err := s.RoomExists(ctx, "room-emb")
		return err == nil && !exists
	}, 5*time.Second, 100*time.Millisecond)
}
