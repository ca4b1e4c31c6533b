package membership

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one set per user under im:user:<id>:groups.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL, password string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func groupsKey(userID int64) string {
	return fmt.Sprintf("im:user:%d:groups", userID)
}

func (r *RedisStore) Groups(ctx context.Context, userID int64) ([]int64, error) {
	members, err := r.client.SMembers(ctx, groupsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load groups for user %d: %w", userID, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			// foreign data in our keyspace, skip it
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *RedisStore) Join(ctx context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, groupsKey(userID), groupID).Err(); err != nil {
		return fmt.Errorf("join group %d: %w", groupID, err)
	}
	return nil
}

func (r *RedisStore) Leave(ctx context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	if err := r.client.SRem(ctx, groupsKey(userID), groupID).Err(); err != nil {
		return fmt.Errorf("leave group %d: %w", groupID, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
