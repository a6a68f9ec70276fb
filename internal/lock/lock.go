package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "tokenmeter:lock:"

// KEYS[1] is released only while ARGV[1] still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	ErrNotConfigured = errors.New("lock client not configured")
	ErrHeld          = errors.New("lock held by another owner")
	ErrInvalidName   = errors.New("invalid_lock_name")
	ErrInvalidTTL    = errors.New("invalid_lock_ttl")
)

// Locker hands out short redis leases keyed by name. A nil *Locker is
// valid and reports ErrNotConfigured, so callers can run without redis.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is one held lock. Release is safe to call more than once.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes name for ttl, or returns ErrHeld when someone else has it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrNotConfigured
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	lease := &Lease{client: l.client, key: keyPrefix + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return lease, nil
}

func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	l.token = ""
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
