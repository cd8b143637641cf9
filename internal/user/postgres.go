package user

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier は pgxpool.Pool と pgxmock の共通部分です。
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	insertUserSQL = `INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	selectUserByIDSQL = `SELECT id::text, username, password_hash, created_at
		FROM users WHERE id = $1`
	selectUserByUsernameSQL = `SELECT id::text, username, password_hash, created_at
		FROM users WHERE username = $1`
	deleteUserSQL = `DELETE FROM users WHERE id = $1`
)

// PostgresStore は users テーブルにユーザーを保存します。
type PostgresStore struct {
	db querier
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create はユーザーを保存します。一意制約違反は ErrDuplicateUsername に変換します。
func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	if err := validateNew(u); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, insertUserSQL, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return duplicateError(u.Username)
		}
		return storeError("create", err)
	}
	return nil
}

// FindByID はIDでユーザーを取得します。
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "find_by_id", selectUserByIDSQL, "id", id)
}

// FindByUsername はユーザー名でユーザーを取得します。
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, "find_by_username", selectUserByUsernameSQL, "username", username)
}

// Delete はIDでユーザーを削除します。
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, deleteUserSQL, id)
	if err != nil {
		if isInvalidID(err) {
			return notFoundError("id", id)
		}
		return storeError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("id", id)
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, operation, query, key, value string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, query, value).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, notFoundError(key, value)
		}
		return nil, storeError(operation, err)
	}
	return &u, nil
}

// isInvalidID は UUID として解釈できない ID による失敗かどうかを返します。
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}
