package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LivePrefix is the Redis key prefix for per-session liveness keys.
	LivePrefix = "presence:live:"

	// SessionsPrefix is the Redis key prefix for the per-user session set.
	SessionsPrefix = "presence:sessions:"

	// DeadlinesKey is the ZSET of sweep deadlines, scored by unix time.
	DeadlinesKey = "presence:deadlines"

	// LiveTTL is how long a session stays live without a heartbeat. The
	// sweep deadline trails it slightly so the TTL is always authoritative.
	LiveTTL = 60 * time.Second

	// deadlineSlack is added to the TTL when scheduling the sweep deadline.
	deadlineSlack = 10 * time.Second
)

// RedisLiveStore tracks session liveness in Redis:
//
//	Key:  presence:live:<user>|<session>  (TTL = LiveTTL)
//	Set:  presence:sessions:<user>        (session ids, pruned lazily)
//	ZSET: presence:deadlines              (member <user>|<session>, score = deadline)
//
// The liveness key's expiry is the disconnect signal for crashed clients;
// the set lets End compute how many of the user's sessions remain live.
type RedisLiveStore struct {
	client *redis.Client
}

// NewRedisLiveStore creates a live-session store using the given Redis client.
func NewRedisLiveStore(client *redis.Client) *RedisLiveStore {
	return &RedisLiveStore{client: client}
}

var _ LiveStore = (*RedisLiveStore)(nil)

func liveKey(userID, sessionID string) string {
	return LivePrefix + userID + "|" + sessionID
}

func deadlineMember(userID, sessionID string) string {
	return userID + "|" + sessionID
}

func parseMember(member string) (SessionRef, bool) {
	i := strings.LastIndex(member, "|")
	if i <= 0 || i == len(member)-1 {
		return SessionRef{}, false
	}
	return SessionRef{UserID: member[:i], SessionID: member[i+1:]}, true
}

// Begin registers a live session: the TTL key, the membership in the user's
// session set, and the sweep deadline. All three writes go in one pipeline.
func (s *RedisLiveStore) Begin(ctx context.Context, userID, sessionID string) error {
	deadline := time.Now().Add(LiveTTL + deadlineSlack).Unix()

	pipe := s.client.Pipeline()
	pipe.Set(ctx, liveKey(userID, sessionID), "1", LiveTTL)
	pipe.SAdd(ctx, SessionsPrefix+userID, sessionID)
	pipe.ZAdd(ctx, DeadlinesKey, redis.Z{Score: float64(deadline), Member: deadlineMember(userID, sessionID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: begin live session: %w", err)
	}
	return nil
}

// Touch refreshes the session's TTL and pushes its sweep deadline out.
func (s *RedisLiveStore) Touch(ctx context.Context, userID, sessionID string) error {
	deadline := time.Now().Add(LiveTTL + deadlineSlack).Unix()

	pipe := s.client.Pipeline()
	pipe.Expire(ctx, liveKey(userID, sessionID), LiveTTL)
	pipe.ZAdd(ctx, DeadlinesKey, redis.Z{Score: float64(deadline), Member: deadlineMember(userID, sessionID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: touch live session: %w", err)
	}
	return nil
}

// Alive reports whether the session's TTL key still exists.
func (s *RedisLiveStore) Alive(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, liveKey(userID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: check live session: %w", err)
	}
	return n > 0, nil
}

// End removes the session's liveness records and returns how many of the
// user's sessions remain live. Stale set members whose TTL keys already
// expired are pruned as a side effect, so the count reflects reality.
func (s *RedisLiveStore) End(ctx context.Context, userID, sessionID string) (int, error) {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, liveKey(userID, sessionID))
	pipe.SRem(ctx, SessionsPrefix+userID, sessionID)
	pipe.ZRem(ctx, DeadlinesKey, deadlineMember(userID, sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence: end live session: %w", err)
	}

	return s.countLive(ctx, userID)
}

// countLive counts the user's sessions whose TTL keys still exist, pruning
// set and deadline entries for those that silently expired.
func (s *RedisLiveStore) countLive(ctx context.Context, userID string) (int, error) {
	members, err := s.client.SMembers(ctx, SessionsPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: list sessions: %w", err)
	}

	live := 0
	for _, sid := range members {
		exists, err := s.client.Exists(ctx, liveKey(userID, sid)).Result()
		if err != nil {
			return 0, fmt.Errorf("presence: check session %s: %w", sid, err)
		}
		if exists > 0 {
			live++
			continue
		}
		// TTL key expired without a clean End; prune the stale records.
		pipe := s.client.Pipeline()
		pipe.SRem(ctx, SessionsPrefix+userID, sid)
		pipe.ZRem(ctx, DeadlinesKey, deadlineMember(userID, sid))
		_, _ = pipe.Exec(ctx)
	}
	return live, nil
}

// Expired returns sessions whose sweep deadline has passed. The TTL key is
// checked by the caller through End, which treats the TTL as authoritative.
func (s *RedisLiveStore) Expired(ctx context.Context, now time.Time) ([]SessionRef, error) {
	members, err := s.client.ZRangeByScore(ctx, DeadlinesKey, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: expired sessions: %w", err)
	}

	refs := make([]SessionRef, 0, len(members))
	for _, m := range members {
		ref, ok := parseMember(m)
		if !ok {
			// Malformed member; drop it so it doesn't come back every sweep.
			s.client.ZRem(ctx, DeadlinesKey, m)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
