package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
)

const turnLockKeyPrefix = "blogchat:turn:"

// Deletes the key only if it still holds our token.
var unlockScript = redisv9.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock allows one in-flight AI turn per conversation. The TTL bounds how
// long a crashed holder keeps the lock.
type TurnLock struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewTurnLock(client *redisv9.Client, ttl time.Duration) *TurnLock {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &TurnLock{client: client, ttl: ttl}
}

func (l *TurnLock) TryLock(ctx context.Context, conversationID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, turnLockKeyPrefix+conversationID, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis acquire turn lock failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *TurnLock) Unlock(ctx context.Context, conversationID, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{turnLockKeyPrefix + conversationID}, token).Err(); err != nil {
		return fmt.Errorf("redis release turn lock failed: %w", err)
	}
	return nil
}
