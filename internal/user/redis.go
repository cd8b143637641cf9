package user

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "secretgate:"
	userKeySegment     = "user:"
	usernameKeySegment = "username:"
)

// RedisStore はユーザーを JSON ドキュメントとして Redis に保存します。
// ユーザー名の一意性は username インデックスキーの SETNX で保証します。
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore は RedisStore を作成します。prefix が空ならデフォルトを使います。
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
	}
}

// Create はユーザーを保存します。
func (s *RedisStore) Create(ctx context.Context, u *User) error {
	if err := validateNew(u); err != nil {
		return err
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return storeError("create", err)
	}

	nameKey := s.usernameKey(u.Username)
	ok, err := s.rdb.SetNX(ctx, nameKey, u.ID, 0).Result()
	if err != nil {
		return storeError("create", err)
	}
	if !ok {
		return duplicateError(u.Username)
	}

	if err := s.rdb.Set(ctx, s.userKey(u.ID), payload, 0).Err(); err != nil {
		// インデックスだけが残らないように戻す
		_ = s.rdb.Del(ctx, nameKey).Err()
		return storeError("create", err)
	}
	return nil
}

// FindByID はIDでユーザーを取得します。
func (s *RedisStore) FindByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, notFoundError("id", id)
	}
	data, err := s.rdb.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFoundError("id", id)
		}
		return nil, storeError("find_by_id", err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, storeError("find_by_id", err)
	}
	return &u, nil
}

// FindByUsername はユーザー名でユーザーを取得します。
func (s *RedisStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	id, err := s.rdb.Get(ctx, s.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFoundError("username", username)
		}
		return nil, storeError("find_by_username", err)
	}
	u, err := s.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFoundError("username", username)
	}
	return u, err
}

// Delete はドキュメントとインデックスを同一トランザクションで削除します。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := s.userKey(id)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return notFoundError("id", id)
				}
				return err
			}
			var u User
			if err := json.Unmarshal(data, &u); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, s.usernameKey(u.Username))
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			return err
		default:
			return storeError("delete", err)
		}
	}
}

func (s *RedisStore) userKey(id string) string {
	return s.prefix + userKeySegment + id
}

func (s *RedisStore) usernameKey(username string) string {
	return s.prefix + usernameKeySegment + username
}
