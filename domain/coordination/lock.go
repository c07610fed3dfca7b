package coordination

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

var releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock is a held MatchLock. Only the holder's token can release it.
type Lock struct {
	RequestID string
	token     string
}

// TryLock acquires the MatchLock for a request without blocking.
// It returns ok=false when another worker holds it.
func (s *Store) TryLock(ctx context.Context, requestID string) (*Lock, bool, error) {
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, s.keys.Lock(requestID), token, s.ttl.Lock).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", requestID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{RequestID: requestID, token: token}, true, nil
}

// Unlock releases the lock if it is still ours. A lock that expired and was
// taken by another worker is left alone.
func (s *Store) Unlock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	err := s.redis.Eval(ctx, releaseScript, []string{s.keys.Lock(lock.RequestID)}, lock.token).Err()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", lock.RequestID, err)
	}
	return nil
}

func (s *Store) IsLocked(ctx context.Context, requestID string) (bool, error) {
	return s.exists(ctx, s.keys.Lock(requestID))
}

// ForceUnlock drops a lock regardless of holder. Only cancellation uses it.
func (s *Store) ForceUnlock(ctx context.Context, requestID string) error {
	return s.del(ctx, s.keys.Lock(requestID))
}
