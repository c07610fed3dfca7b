package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/redis/go-redis/v9"
)

const (
	ConfirmWaiting  = "waiting"
	ConfirmAccepted = "accepted"

	livenessValue = "active"
)

// TTLs bounds every short-lived marker the engine writes.
type TTLs struct {
	Search   time.Duration
	Lock     time.Duration
	Confirm  time.Duration
	Cooldown time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Search:   30 * time.Second,
		Lock:     5 * time.Second,
		Confirm:  15 * time.Second,
		Cooldown: 5 * time.Second,
	}
}

// Store is the ephemeral coordination store. None of its contents is
// authoritative; the durable request store can rebuild all of it.
type Store struct {
	redis RedisGateway
	keys  Keys
	ttl   TTLs
}

func NewStore(redisGateway RedisGateway, keys Keys, ttl TTLs) *Store {
	return &Store{redis: redisGateway, keys: keys, ttl: ttl}
}

func (s *Store) TTLs() TTLs { return s.ttl }

func (s *Store) Keys() Keys { return s.keys }

func (s *Store) SaveSnapshot(ctx context.Context, snap entities.RequestSnapshot) error {
	key := s.keys.Snapshot(snap.RequestID)
	// Overwrite rather than merge so fields from an older enqueue never linger.
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear snapshot %s: %w", snap.RequestID, err)
	}
	if err := s.redis.HSet(ctx, key, snap.Hash()).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.RequestID, err)
	}
	return nil
}

// Snapshot returns ok=false when no snapshot is stored for the id.
func (s *Store) Snapshot(ctx context.Context, requestID string) (entities.RequestSnapshot, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.keys.Snapshot(requestID)).Result()
	if err != nil {
		return entities.RequestSnapshot{}, false, fmt.Errorf("load snapshot %s: %w", requestID, err)
	}
	if len(fields) == 0 {
		return entities.RequestSnapshot{}, false, nil
	}
	snap, err := entities.ParseRequestSnapshot(fields)
	if err != nil {
		return entities.RequestSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) DeleteSnapshots(ctx context.Context, requestIDs ...string) error {
	keys := make([]string, 0, len(requestIDs))
	for _, id := range requestIDs {
		keys = append(keys, s.keys.Snapshot(id))
	}
	return s.del(ctx, keys...)
}

func (s *Store) Enqueue(ctx context.Context, venue, requestID string, at time.Time) error {
	err := s.redis.ZAdd(ctx, s.keys.VenueQueue(venue), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: requestID,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s in %s: %w", requestID, venue, err)
	}
	return nil
}

func (s *Store) Dequeue(ctx context.Context, venue string, requestIDs ...string) error {
	members := make([]interface{}, 0, len(requestIDs))
	for _, id := range requestIDs {
		members = append(members, id)
	}
	if err := s.redis.ZRem(ctx, s.keys.VenueQueue(venue), members...).Err(); err != nil {
		return fmt.Errorf("dequeue %v from %s: %w", requestIDs, venue, err)
	}
	return nil
}

// Queue returns every queued id for the venue in enqueue order.
func (s *Store) Queue(ctx context.Context, venue string) ([]string, error) {
	ids, err := s.redis.ZRange(ctx, s.keys.VenueQueue(venue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", venue, err)
	}
	return ids, nil
}

func (s *Store) MarkLive(ctx context.Context, requestID string) error {
	if err := s.redis.Set(ctx, s.keys.Liveness(requestID), livenessValue, s.ttl.Search).Err(); err != nil {
		return fmt.Errorf("mark %s live: %w", requestID, err)
	}
	return nil
}

// RefreshLive extends an existing liveness marker. It reports false when the marker already lapsed.
func (s *Store) RefreshLive(ctx context.Context, requestID string) (bool, error) {
	ok, err := s.redis.Expire(ctx, s.keys.Liveness(requestID), s.ttl.Search).Result()
	if err != nil {
		return false, fmt.Errorf("refresh liveness %s: %w", requestID, err)
	}
	return ok, nil
}

func (s *Store) IsLive(ctx context.Context, requestID string) (bool, error) {
	return s.exists(ctx, s.keys.Liveness(requestID))
}

func (s *Store) DeleteLiveness(ctx context.Context, requestIDs ...string) error {
	keys := make([]string, 0, len(requestIDs))
	for _, id := range requestIDs {
		keys = append(keys, s.keys.Liveness(id))
	}
	return s.del(ctx, keys...)
}

func (s *Store) SetConfirmation(ctx context.Context, requestID, state string) error {
	if err := s.redis.Set(ctx, s.keys.Confirmation(requestID), state, s.ttl.Confirm).Err(); err != nil {
		return fmt.Errorf("set confirmation %s: %w", requestID, err)
	}
	return nil
}

// AcceptConfirmation flips an existing marker to accepted and refreshes its TTL.
// It reports false when the marker is gone, i.e. the confirmation window closed.
func (s *Store) AcceptConfirmation(ctx context.Context, requestID string) (bool, error) {
	ok, err := s.redis.SetXX(ctx, s.keys.Confirmation(requestID), ConfirmAccepted, s.ttl.Confirm).Result()
	if err != nil {
		return false, fmt.Errorf("accept confirmation %s: %w", requestID, err)
	}
	return ok, nil
}

// Confirmation returns "" when no marker exists.
func (s *Store) Confirmation(ctx context.Context, requestID string) (string, error) {
	state, err := s.redis.Get(ctx, s.keys.Confirmation(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read confirmation %s: %w", requestID, err)
	}
	return state, nil
}

func (s *Store) DeleteConfirmations(ctx context.Context, requestIDs ...string) error {
	keys := make([]string, 0, len(requestIDs))
	for _, id := range requestIDs {
		keys = append(keys, s.keys.Confirmation(id))
	}
	return s.del(ctx, keys...)
}

func (s *Store) SetCooldown(ctx context.Context, a, b string) error {
	if err := s.redis.Set(ctx, s.keys.Cooldown(a, b), "1", s.ttl.Cooldown).Err(); err != nil {
		return fmt.Errorf("set cooldown %s/%s: %w", a, b, err)
	}
	return nil
}

func (s *Store) CoolingDown(ctx context.Context, a, b string) (bool, error) {
	return s.exists(ctx, s.keys.Cooldown(a, b))
}

// finalizeTTL outlives the confirmation window so a stalled finalization can
// still be resumed by a retried accept or by the pending reaper.
func (s *Store) finalizeTTL() time.Duration { return 2 * s.ttl.Confirm }

const resumePrefix = "resume:"

// ClaimFinalize succeeds for exactly one caller per pair. The claim holds the
// id of the match being created.
func (s *Store) ClaimFinalize(ctx context.Context, a, b, matchID string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.keys.Finalize(a, b), matchID, s.finalizeTTL()).Result()
	if err != nil {
		return false, fmt.Errorf("claim finalize %s/%s: %w", a, b, err)
	}
	return ok, nil
}

// FinalizeClaim returns the raw claim value, "" when there is none.
func (s *Store) FinalizeClaim(ctx context.Context, a, b string) (string, error) {
	v, err := s.redis.Get(ctx, s.keys.Finalize(a, b)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read finalize claim %s/%s: %w", a, b, err)
	}
	return v, nil
}

// SuspendFinalize marks a claimed finalization whose match exists but whose
// status writes did not all land, so the next caller can take it over.
func (s *Store) SuspendFinalize(ctx context.Context, a, b, matchID string) error {
	if err := s.redis.Set(ctx, s.keys.Finalize(a, b), resumePrefix+matchID, s.finalizeTTL()).Err(); err != nil {
		return fmt.Errorf("suspend finalize %s/%s: %w", a, b, err)
	}
	return nil
}

var resumeScript = `
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
	local id = string.sub(v, string.len(ARGV[1]) + 1)
	redis.call("SET", KEYS[1], id, "PX", ARGV[2])
	return id
end
return false
`

// ResumeFinalize takes over a suspended finalization. Only one caller gets
// ok=true per suspension.
func (s *Store) ResumeFinalize(ctx context.Context, a, b string) (string, bool, error) {
	id, err := s.redis.Eval(ctx, resumeScript, []string{s.keys.Finalize(a, b)}, resumePrefix, s.finalizeTTL().Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resume finalize %s/%s: %w", a, b, err)
	}
	return id, true, nil
}

func (s *Store) ReleaseFinalize(ctx context.Context, a, b string) error {
	return s.del(ctx, s.keys.Finalize(a, b))
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %v: %w", keys, err)
	}
	return nil
}
