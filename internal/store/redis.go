package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/metrics"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

const (
	// defaultCapacity applies to metadata written without a capacity field.
	defaultCapacity = 2

	// minAdmitAttempts is the floor of the admission attempt budget; the
	// budget grows to capacity+1 for larger rooms.
	minAdmitAttempts = 16

	// pttlMissing is the PTTL reply for a key that does not exist.
	pttlMissing = time.Duration(-2)
)

// RedisStore handles Redis operations for rooms, messages and name bindings.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the limiter and the broker.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// metaKey returns the key for a room's metadata hash.
func metaKey(roomID string) string {
	return "meta:" + roomID
}

// messagesKey returns the key for a room's message list.
func messagesKey(roomID string) string {
	return "messages:" + roomID
}

// usersKey returns the key for a room's token -> display name hash.
func usersKey(roomID string) string {
	return "users:" + roomID
}

// historyKey returns the key for a room's auxiliary history.
func historyKey(roomID string) string {
	return "history:" + roomID
}

// RoomKeys lists every key owned by a room.
func RoomKeys(roomID string) []string {
	return []string{metaKey(roomID), messagesKey(roomID), historyKey(roomID), usersKey(roomID)}
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.RedisLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStore, err)
}

// CreateRoom writes the metadata hash and its expiry in one transaction.
func (s *RedisStore) CreateRoom(ctx context.Context, room *models.Room, ttl time.Duration) error {
	defer observe("create_room")()

	connected := room.Connected
	if connected == nil {
		connected = []string{}
	}
	data, err := json.Marshal(connected)
	if err != nil {
		return err
	}

	key := metaKey(room.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"connected", string(data),
			"capacity", room.Capacity,
			"createdAt", room.CreatedAt,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return storeErr("create room", err)
	}
	return nil
}

// GetRoom returns the room metadata, or nil if the room does not exist.
func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	defer observe("get_room")()

	fields, err := s.client.HGetAll(ctx, metaKey(roomID)).Result()
	if err != nil {
		return nil, storeErr("get room", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	room := &models.Room{
		ID:        roomID,
		Connected: decodeTokens(fields["connected"]),
		Capacity:  parseCapacity(fields["capacity"]),
	}
	room.CreatedAt, _ = strconv.ParseInt(fields["createdAt"], 10, 64)
	return room, nil
}

// RoomExists reports whether the room metadata is present.
func (s *RedisStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	defer observe("room_exists")()

	n, err := s.client.Exists(ctx, metaKey(roomID)).Result()
	if err != nil {
		return false, storeErr("room exists", err)
	}
	return n > 0, nil
}

// RoomTTL returns the remaining lifetime of a room, 0 if unknown or elapsed.
func (s *RedisStore) RoomTTL(ctx context.Context, roomID string) (time.Duration, error) {
	defer observe("room_ttl")()

	ttl, err := s.client.PTTL(ctx, metaKey(roomID)).Result()
	if err != nil {
		return 0, storeErr("room ttl", err)
	}
	// -2 (missing) and -1 (no expiry) come back as negative durations
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// AdmitToken appends token to the room membership if there is room for it.
// The read-verify-write runs under WATCH so that a concurrent admission
// aborts the transaction. Every abort means another token was committed, so
// capacity+1 attempts always reach a verdict.
func (s *RedisStore) AdmitToken(ctx context.Context, roomID, token string) (models.AdmitResult, error) {
	defer observe("admit")()

	key := metaKey(roomID)
	var (
		result   models.AdmitResult
		capacity int
	)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, key, "connected", "capacity").Result()
		if err != nil {
			return err
		}
		raw, ok := vals[0].(string)
		if !ok {
			result = models.RoomNotFound
			return nil
		}

		capStr, _ := vals[1].(string)
		room := models.Room{ID: roomID, Capacity: parseCapacity(capStr), Connected: decodeTokens(raw)}
		capacity = room.Capacity
		if room.IsMember(token) {
			result = models.Admitted
			return nil
		}
		if !room.HasCapacity() {
			result = models.RoomFull
			return nil
		}

		data, err := json.Marshal(append(room.Connected, token))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "connected", string(data))
			return nil
		})
		if err != nil {
			return err
		}
		result = models.Admitted
		return nil
	}

	for attempt := 0; attempt < max(minAdmitAttempts, capacity+1); attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			metrics.AdmissionConflicts.Inc()
			continue
		}
		return 0, storeErr("admit", err)
	}
	return models.RoomFull, nil
}

// DeleteRoom removes every key owned by the room in parallel. It does not
// stop at the first failure; all failures are joined into the returned error.
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	defer observe("delete_room")()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, key := range RoomKeys(roomID) {
		key := key // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("del %s: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return storeErr("delete room", errors.Join(errs...))
	}
	return nil
}

// AppendMessage pushes msg (owner token included) to the tail of the room list.
func (s *RedisStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	defer observe("append_message")()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, messagesKey(msg.RoomID), string(data)).Err(); err != nil {
		return storeErr("append message", err)
	}
	return nil
}

// ListMessages returns the room's messages in insertion order.
func (s *RedisStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	defer observe("list_messages")()

	results, err := s.client.LRange(ctx, messagesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// RemoveMessage deletes the first list entry whose id matches messageID.
// It reports whether an entry was removed.
func (s *RedisStore) RemoveMessage(ctx context.Context, roomID, messageID string) (bool, error) {
	defer observe("remove_message")()

	key := messagesKey(roomID)
	results, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, storeErr("remove message", err)
	}

	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil || msg.ID != messageID {
			continue
		}
		removed, err := s.client.LRem(ctx, key, 1, data).Result()
		if err != nil {
			return false, storeErr("remove message", err)
		}
		return removed > 0, nil
	}
	return false, nil
}

// BindName binds name to token unless a binding exists, and returns the
// name that is bound after the call.
func (s *RedisStore) BindName(ctx context.Context, roomID, token, name string) (string, error) {
	defer observe("bind_name")()

	key := usersKey(roomID)
	set, err := s.client.HSetNX(ctx, key, token, name).Result()
	if err != nil {
		return "", storeErr("bind name", err)
	}
	if set {
		return name, nil
	}

	bound, err := s.client.HGet(ctx, key, token).Result()
	if err != nil {
		return "", storeErr("bind name", err)
	}
	return bound, nil
}

// LookupName returns the display name bound to token, or "" if none.
func (s *RedisStore) LookupName(ctx context.Context, roomID, token string) (string, error) {
	name, err := s.client.HGet(ctx, usersKey(roomID), token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("lookup name", err)
	}
	return name, nil
}

// SyncTTL re-arms every dependent key to the room's remaining lifetime.
// If the room is gone the dependent keys are dropped, since a write racing
// the expiry would otherwise leave them without a TTL.
func (s *RedisStore) SyncTTL(ctx context.Context, roomID string) (time.Duration, error) {
	defer observe("sync_ttl")()

	dependents := []string{messagesKey(roomID), historyKey(roomID), usersKey(roomID)}

	remaining, err := s.client.PTTL(ctx, metaKey(roomID)).Result()
	if err != nil {
		return 0, storeErr("sync ttl", err)
	}
	switch {
	case remaining == pttlMissing:
		if err := s.client.Del(ctx, dependents...).Err(); err != nil {
			return 0, storeErr("sync ttl", err)
		}
		return 0, nil
	case remaining <= 0:
		return 0, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range dependents {
			pipe.PExpire(ctx, key, remaining)
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("sync ttl", err)
	}
	return remaining, nil
}

func decodeTokens(raw string) []string {
	var tokens []string
	if raw == "" {
		return tokens
	}
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil
	}
	return tokens
}

func parseCapacity(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultCapacity
	}
	return n
}
