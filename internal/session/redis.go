// Package session はサーバー側にセッションを保持する gin-contrib/sessions 用ストアを提供します。
//
// クッキーには署名済みのセッションIDのみを載せ、値は Redis に保存します。
// ユーザーIDを持つセッションはユーザーごとのインデックスに登録され、
// アカウント削除時に PurgeUser でまとめて失効できます。
package session

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	gsessions "github.com/gorilla/sessions"
	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "secretgate:session:"
	defaultMaxAge    = 12 * 60 * 60
)

// RedisOptions は RedisStore の振る舞いを指定します。
type RedisOptions struct {
	// KeyPrefix はセッションキーの接頭辞です。
	KeyPrefix string
	// UserKey はセッション値のうちユーザーIDを保持するキーです。
	// 空ならユーザーインデックスを管理しません。
	UserKey string
}

// RedisStore は gin-contrib/sessions の Store 実装です。
type RedisStore struct {
	rdb        *redis.Client
	codecs     []securecookie.Codec
	options    *gsessions.Options
	serializer securecookie.GobEncoder
	prefix     string
	userKey    string
}

var _ sessions.Store = (*RedisStore)(nil)

// NewRedisStore は RedisStore を作成します。keyPairs はクッキー署名（と暗号化）用の鍵です。
func NewRedisStore(rdb *redis.Client, opts RedisOptions, keyPairs ...[]byte) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		options: &gsessions.Options{
			Path:   "/",
			MaxAge: defaultMaxAge,
		},
		prefix:  prefix,
		userKey: opts.UserKey,
	}
}

// Options はクッキーのオプションを設定します。
func (s *RedisStore) Options(options sessions.Options) {
	s.options = options.ToGorillaOptions()
}

// Get はリクエスト単位でキャッシュされたセッションを返します。
func (s *RedisStore) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New はクッキーのセッションIDから Redis の値を読み込みます。
// クッキーが無い、改ざんされている、または期限切れの場合は新しいセッションを返します。
func (s *RedisStore) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.codecs...); err != nil {
		session.ID = ""
		return session, nil
	}

	found, err := s.load(r.Context(), session)
	if err != nil {
		return session, err
	}
	if !found {
		session.ID = ""
		return session, nil
	}
	session.IsNew = false
	return session, nil
}

// Save はセッションを Redis に保存し、署名済みIDをクッキーに書き込みます。
// MaxAge が負の場合はセッションを削除してクッキーを失効させます。
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	ctx := r.Context()

	if session.Options.MaxAge < 0 {
		if err := s.delete(ctx, session.ID); err != nil {
			return err
		}
		http.SetCookie(w, gsessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if err := s.rotateOnOwnerChange(ctx, session); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = newSessionID()
	}
	if err := s.save(ctx, session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}
	http.SetCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// PurgeUser は userID に紐づく全セッションを削除し、削除件数を返します。
func (s *RedisStore) PurgeUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, errors.New("userID is required")
	}
	indexKey := s.userIndexKey(userID)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, indexKey)

	removed, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	// インデックスキー自体の削除分を除く
	if removed > 0 && len(ids) > 0 {
		removed--
	}
	return int(removed), nil
}

func (s *RedisStore) load(ctx context.Context, session *gsessions.Session) (bool, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(session.ID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if err := s.serializer.Deserialize(data, &session.Values); err != nil {
		return false, fmt.Errorf("failed to decode session: %w", err)
	}
	return true, nil
}

func (s *RedisStore) save(ctx context.Context, session *gsessions.Session) error {
	data, err := s.serializer.Serialize(session.Values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := s.ttl(session.Options)
	key := s.sessionKey(session.ID)
	userID := s.userIDOf(session)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		if userID != "" {
			indexKey := s.userIndexKey(userID)
			pipe.SAdd(ctx, indexKey, session.ID)
			pipe.Expire(ctx, indexKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// rotateOnOwnerChange は保存済みのユーザーIDと異なるユーザーで保存される場合に
// 旧セッションを削除してIDを振り直します。サインイン時のセッション固定を防ぎ、
// 旧ユーザーのインデックスに新しい所有者のセッションを残しません。
func (s *RedisStore) rotateOnOwnerChange(ctx context.Context, session *gsessions.Session) error {
	if session.ID == "" || s.userKey == "" {
		return nil
	}
	prev, found, err := s.storedUserID(ctx, session.ID)
	if err != nil {
		return err
	}
	if !found || prev == s.userIDOf(session) {
		return nil
	}
	if err := s.delete(ctx, session.ID); err != nil {
		return err
	}
	session.ID = ""
	return nil
}

// storedUserID は Redis 上のセッションに保存されているユーザーIDを返します。
func (s *RedisStore) storedUserID(ctx context.Context, id string) (string, bool, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load session: %w", err)
	}
	values := map[interface{}]interface{}{}
	if err := s.serializer.Deserialize(data, &values); err != nil {
		return "", true, nil
	}
	userID, _ := values[s.userKey].(string)
	return userID, true, nil
}

func (s *RedisStore) delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	key := s.sessionKey(id)

	var userID string
	if s.userKey != "" {
		userID, _, _ = s.storedUserID(ctx, id)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if userID != "" {
			pipe.SRem(ctx, s.userIndexKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ttl(opts *gsessions.Options) time.Duration {
	maxAge := defaultMaxAge
	if opts != nil && opts.MaxAge > 0 {
		maxAge = opts.MaxAge
	}
	return time.Duration(maxAge) * time.Second
}

func (s *RedisStore) userIDOf(session *gsessions.Session) string {
	if s.userKey == "" {
		return ""
	}
	userID, _ := session.Values[s.userKey].(string)
	return userID
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) userIndexKey(userID string) string {
	return s.prefix + "user:" + userID
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
