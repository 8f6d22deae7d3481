package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/models"
	"github.com/Ibragimm228/realtimechat/internal/realtime"
	"github.com/Ibragimm228/realtimechat/internal/store"
	"github.com/Ibragimm228/realtimechat/internal/store/storetest"
)

const testRoom = "room-relay-test"

type recordingPublisher struct {
	events []models.EventKind
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, kind models.EventKind, _ any) error {
	p.events = append(p.events, kind)
	return p.err
}

type testEnv struct {
	server *miniredis.Miniredis
	store  *store.RedisStore
	broker *realtime.Broker
	relay  *Relay
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	server, client := storetest.New(t)
	st := store.NewRedisStoreFromClient(client)
	broker := realtime.NewBroker(client, zerolog.Nop())

	room := &models.Room{ID: testRoom, Capacity: 2, Connected: []string{"tokA", "tokB"}}
	require.NoError(t, st.CreateRoom(context.Background(), room, 10*time.Minute))

	return &testEnv{
		server: server,
		store:  st,
		broker: broker,
		relay:  New(st, broker, zerolog.Nop()),
	}
}

func member(token string) auth.Capability {
	return auth.Capability{RoomID: testRoom, Token: token}
}

func nextEvent(t *testing.T, sub *realtime.Subscription) models.Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return models.Event{}
	}
}

func TestRelay_PostAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.relay.Post(ctx, member("tokA"), "Alice", "ciphertext-1")
	require.NoError(t, err)
	_, err = env.relay.Post(ctx, member("tokB"), "Bob", "ciphertext-2")
	require.NoError(t, err)
	_, err = env.relay.Post(ctx, member("tokA"), "Alice", "ciphertext-3")
	require.NoError(t, err)

	// Bob sees messages in insertion order with only his own token echoed
	messages, err := env.relay.List(ctx, member("tokB"))
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, []string{"ciphertext-1", "ciphertext-2", "ciphertext-3"},
		[]string{messages[0].Text, messages[1].Text, messages[2].Text})
	require.Empty(t, messages[0].Token)
	require.Equal(t, "tokB", messages[1].Token)
	require.Empty(t, messages[2].Token)

	// Alice sees her own
	messages, err = env.relay.List(ctx, member("tokA"))
	require.NoError(t, err)
	require.Equal(t, "tokA", messages[0].Token)
	require.Empty(t, messages[1].Token)
}

func TestRelay_Post_FirstNameWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg, err := env.relay.Post(ctx, member("tokA"), "Alice", "x")
	require.NoError(t, err)
	require.Equal(t, "Alice", msg.Sender)

	msg, err = env.relay.Post(ctx, member("tokA"), "Mallory", "y")
	require.NoError(t, err)
	require.Equal(t, "Alice", msg.Sender)

	messages, err := env.relay.List(ctx, member("tokA"))
	require.NoError(t, err)
	for _, m := range messages {
		require.Equal(t, "Alice", m.Sender)
	}
}

func TestRelay_Post_EmptySenderUsesBoundName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.relay.Post(ctx, member("tokA"), "Alice", "x")
	require.NoError(t, err)

	msg, err := env.relay.Post(ctx, member("tokA"), "", "y")
	require.NoError(t, err)
	require.Equal(t, "Alice", msg.Sender)

	// Without a binding there is no name to fall back on
	_, err = env.relay.Post(ctx, member("tokB"), "", "z")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

// expiringStore reports the room as present after it has expired, the way a
// post racing the room TTL sees it.
type expiringStore struct {
	*store.RedisStore
}

func (expiringStore) RoomExists(context.Context, string) (bool, error) {
	return true, nil
}

func TestRelay_Post_RoomExpiresMidway(t *testing.T) {
	server, client := storetest.New(t)
	r := New(expiringStore{store.NewRedisStoreFromClient(client)}, &recordingPublisher{}, zerolog.Nop())
	capability := auth.Capability{RoomID: "room-expired", Token: "tokA"}

	_, err := r.Post(context.Background(), capability, "Alice", "x")
	require.NoError(t, err)

	// Keys written after the expiry are dropped rather than left without a TTL
	require.False(t, server.Exists("messages:room-expired"))
	require.False(t, server.Exists("users:room-expired"))
}

func TestRelay_Post_PublishesWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.broker.Subscribe(ctx, testRoom)
	require.NoError(t, err)
	defer sub.Close()

	posted, err := env.relay.Post(ctx, member("tokA"), "Alice", "ciphertext")
	require.NoError(t, err)

	evt := nextEvent(t, sub)
	require.Equal(t, models.EventMessage, evt.Kind)
	require.NotContains(t, string(evt.Data), "tokA")

	var got models.Message
	require.NoError(t, json.Unmarshal(evt.Data, &got))
	require.Equal(t, posted.Public(), got)
}

func TestRelay_Post_SyncsTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.server.FastForward(4 * time.Minute)
	_, err := env.relay.Post(ctx, member("tokA"), "Alice", "x")
	require.NoError(t, err)

	metaTTL := env.server.TTL("meta:" + testRoom)
	require.Equal(t, 6*time.Minute, metaTTL)
	require.Equal(t, metaTTL, env.server.TTL("messages:"+testRoom))
	require.Equal(t, metaTTL, env.server.TTL("users:"+testRoom))
}

func TestRelay_Post_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.relay.Post(context.Background(), auth.Capability{RoomID: "gone", Token: "tokA"}, "Alice", "x")
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
	require.False(t, env.server.Exists("messages:gone"))
	require.False(t, env.server.Exists("users:gone"))
}

func TestRelay_Post_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string][2]string{
		"empty sender": {"", "x"},
		"long sender":  {strings.Repeat("a", MaxSenderLength+1), "x"},
		"empty text":   {"Alice", ""},
		"long text":    {"Alice", strings.Repeat("a", MaxTextLength+1)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.relay.Post(ctx, member("tokA"), c[0], c[1])
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := env.relay.Post(ctx, member("tokA"), strings.Repeat("a", MaxSenderLength), strings.Repeat("b", MaxTextLength))
	require.NoError(t, err)
}

func TestRelay_Post_PublishFailureKeepsMessage(t *testing.T) {
	_, client := storetest.New(t)
	st := store.NewRedisStoreFromClient(client)
	require.NoError(t, st.CreateRoom(context.Background(), &models.Room{ID: testRoom, Capacity: 1, Connected: []string{"tokA"}}, time.Minute))
	publisher := &recordingPublisher{err: errors.New("pubsub down")}
	r := New(st, publisher, zerolog.Nop())

	_, err := r.Post(context.Background(), member("tokA"), "Alice", "x")
	require.NoError(t, err)

	messages, err := r.List(context.Background(), member("tokA"))
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestRelay_List_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.relay.List(context.Background(), auth.Capability{RoomID: "gone", Token: "tokA"})
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestRelay_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.relay.Post(ctx, member("tokA"), "Alice", "one")
	require.NoError(t, err)
	_, err = env.relay.Post(ctx, member("tokA"), "Alice", "two")
	require.NoError(t, err)

	sub, err := env.broker.Subscribe(ctx, testRoom)
	require.NoError(t, err)
	defer sub.Close()

	// Any member may delete any message
	removed, err := env.relay.Delete(ctx, member("tokB"), first.ID)
	require.NoError(t, err)
	require.True(t, removed)

	evt := nextEvent(t, sub)
	require.Equal(t, models.EventDelete, evt.Kind)
	var payload models.DeleteEvent
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	require.Equal(t, first.ID, payload.MessageID)
	require.Equal(t, testRoom, payload.RoomID)

	messages, err := env.relay.List(ctx, member("tokA"))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "two", messages[0].Text)
}

func TestRelay_Delete_UnknownIsNoop(t *testing.T) {
	env := newTestEnv(t)
	publisher := &recordingPublisher{}
	r := New(env.store, publisher, zerolog.Nop())
	ctx := context.Background()

	_, err := r.Post(ctx, member("tokA"), "Alice", "one")
	require.NoError(t, err)

	removed, err := r.Delete(ctx, member("tokA"), "no-such-id")
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, []models.EventKind{models.EventMessage}, publisher.events)

	messages, err := r.List(ctx, member("tokA"))
	require.NoError(t, err)
	require.Len(t, messages, 1)

	_, err = r.Delete(ctx, member("tokA"), "")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRelay_Typing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.broker.Subscribe(ctx, testRoom)
	require.NoError(t, err)
	defer sub.Close()

	// Given no binding the supplied username is used and nothing is bound
	require.NoError(t, env.relay.Typing(ctx, member("tokA"), true, "Alice"))
	evt := nextEvent(t, sub)
	require.Equal(t, models.EventTyping, evt.Kind)
	require.NotContains(t, string(evt.Data), "tokA")
	var typing models.TypingEvent
	require.NoError(t, json.Unmarshal(evt.Data, &typing))
	require.Equal(t, models.TypingEvent{RoomID: testRoom, Username: "Alice", IsTyping: true, Timestamp: typing.Timestamp}, typing)

	name, err := env.store.LookupName(ctx, testRoom, "tokA")
	require.NoError(t, err)
	require.Empty(t, name)

	// Once a name is bound by posting, it overrides the claimed username
	_, err = env.relay.Post(ctx, member("tokA"), "Alice", "x")
	require.NoError(t, err)
	nextEvent(t, sub)

	require.NoError(t, env.relay.Typing(ctx, member("tokA"), false, "Mallory"))
	evt = nextEvent(t, sub)
	require.NoError(t, json.Unmarshal(evt.Data, &typing))
	require.Equal(t, "Alice", typing.Username)
	require.False(t, typing.IsTyping)

	// Typing never touches the message list
	messages, err := env.relay.List(ctx, member("tokA"))
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestRelay_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.server.Close()

	_, err := env.relay.Post(context.Background(), member("tokA"), "Alice", "x")
	require.ErrorIs(t, err, apperr.ErrStore)

	_, err = env.relay.List(context.Background(), member("tokA"))
	require.ErrorIs(t, err, apperr.ErrStore)
}
