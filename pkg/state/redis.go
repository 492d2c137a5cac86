package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// createdField marks record existence inside the hash so that Create can
// use HSETNX as its exactly-once primitive.
const createdField = "created_at"

// completeScript writes the outcome and its detail fields in one atomic
// step. Returns 0 when the outcome field already exists.
var completeScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
for i = 3, #ARGV, 2 do
	redis.call("HSET", KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// RedisStore implements Store on a Redis hash per token, for deployments
// where the registering and completing processes do not share a filesystem.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func recordKey(token Token) string {
	return "relay:state:" + string(token)
}

// Create implements Store.Create via HSETNX on the creation marker.
func (s *RedisStore) Create(ctx context.Context, token Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	created, err := s.client.HSetNX(ctx, recordKey(token), createdField, time.Now().UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	if !created {
		return ErrConflict
	}
	return nil
}

// GetField implements Store.GetField.
func (s *RedisStore) GetField(ctx context.Context, token Token, name string) (string, error) {
	if err := token.Validate(); err != nil {
		return "", err
	}
	value, err := s.client.HGet(ctx, recordKey(token), name).Result()
	if errors.Is(err, redis.Nil) {
		exists, err := s.client.Exists(ctx, recordKey(token)).Result()
		if err != nil {
			return "", fmt.Errorf("failed to look up record: %w", err)
		}
		if exists == 0 {
			return "", ErrNotFound
		}
		return "", ErrFieldAbsent
	}
	if err != nil {
		return "", fmt.Errorf("failed to read field %s: %w", name, err)
	}
	return value, nil
}

// SetField implements Store.SetField.
func (s *RedisStore) SetField(ctx context.Context, token Token, name, value string) error {
	if name == FieldOutcome {
		return s.Complete(ctx, token, Outcome(value), nil)
	}
	if err := token.Validate(); err != nil {
		return err
	}
	exists, err := s.client.Exists(ctx, recordKey(token)).Result()
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, recordKey(token), name, value).Err(); err != nil {
		return fmt.Errorf("failed to write field %s: %w", name, err)
	}
	return nil
}

// Complete implements Store.Complete via a Lua script, so the outcome and
// its detail fields land atomically.
func (s *RedisStore) Complete(ctx context.Context, token Token, outcome Outcome, detail map[string]string) error {
	if err := checkTerminalArgs(token, outcome); err != nil {
		return err
	}
	exists, err := s.client.Exists(ctx, recordKey(token)).Result()
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	args := []interface{}{FieldOutcome, string(outcome)}
	for name, value := range detail {
		args = append(args, name, value)
	}
	won, err := completeScript.Run(ctx, s.client, []string{recordKey(token)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	if won == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// Terminal implements Store.Terminal.
func (s *RedisStore) Terminal(ctx context.Context, token Token) (bool, error) {
	outcome, err := CurrentOutcome(ctx, s, token)
	if err != nil {
		return false, err
	}
	return outcome.IsTerminal(), nil
}
