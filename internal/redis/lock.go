package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// getSessionLockDuration returns the allocation lock TTL. The lock only
// needs to outlive one allocation attempt; the default is generous.
func (r *Redis) getSessionLockDuration() time.Duration {
	defaultDuration := 60 * time.Second

	lockTTLStr := os.Getenv("ALLOCATION_LOCK_TTL_SECONDS")
	if lockTTLStr == "" {
		return defaultDuration
	}

	lockTTLSec, err := strconv.Atoi(lockTTLStr)
	if err != nil {
		r.Logger.Println("REDIS: Invalid ALLOCATION_LOCK_TTL_SECONDS value '" + lockTTLStr + "', using default 60 seconds")
		return defaultDuration
	}

	return time.Duration(lockTTLSec) * time.Second
}

// AcquireSessionLock takes the per-payment-session allocation lock.
// Returns false when another allocation holds it.
func (r *Redis) AcquireSessionLock(sessionID, ownerID string) (bool, error) {
	key := "allocation_lock:" + sessionID
	return r.Client.SetNX(context.Background(), key, ownerID, r.getSessionLockDuration()).Result()
}

// ReleaseSessionLock drops the lock, but only for its owner; a lock that
// expired and was re-acquired by someone else is left alone.
func (r *Redis) ReleaseSessionLock(sessionID, ownerID string) error {
	ctx := context.Background()
	key := "allocation_lock:" + sessionID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == ownerID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// soldCountKey caches the storefront's sold-ticket counter per raffle.
func soldCountKey(raffleID string) string {
	return fmt.Sprintf("sold_count:%s", raffleID)
}

// GetSoldCount returns the cached sold count and whether it was present.
func (r *Redis) GetSoldCount(raffleID string) (int, bool, error) {
	val, err := r.Client.Get(context.Background(), soldCountKey(raffleID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (r *Redis) SetSoldCount(raffleID string, count int, ttl time.Duration) error {
	return r.Client.Set(context.Background(), soldCountKey(raffleID), count, ttl).Err()
}

// InvalidateSoldCount drops the cached counter after an allocation.
func (r *Redis) InvalidateSoldCount(raffleID string) error {
	return r.Client.Del(context.Background(), soldCountKey(raffleID)).Err()
}
