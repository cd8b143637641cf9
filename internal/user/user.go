// Package user はユーザーレコードの永続化を提供します。
//
// ストアは memory / redis / postgres の3種類で、いずれもユーザー名の一意性を
// ストア側で保証します。
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

var (
	// ErrNotFound は対象のユーザーが存在しない場合に返されます。
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUsername は同名のユーザーが既に登録されている場合に返されます。
	ErrDuplicateUsername = errors.New("username already registered")
)

// User は登録済みユーザーを表します。
// PasswordHash は認証ストラテジーが生成した不透明なハッシュです。
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// New は新しいIDを採番したユーザーを作成します。
func New(username, passwordHash string) *User {
	return &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
}

// Store はユーザーレコードの永続化を担います。
type Store interface {
	// Create はユーザーを保存します。同名ユーザーが存在すれば ErrDuplicateUsername を返します。
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Delete は指定IDのユーザーのみを削除します。存在しなければ ErrNotFound を返します。
	Delete(ctx context.Context, id string) error
}

func validateNew(u *User) error {
	if u == nil {
		return oops.Code("USER_INVALID").Errorf("user is nil")
	}
	if u.ID == "" {
		return oops.Code("USER_INVALID").Errorf("user id is required")
	}
	if u.Username == "" {
		return oops.Code("USER_INVALID").Errorf("username is required")
	}
	return nil
}

func duplicateError(username string) error {
	return oops.Code("USER_DUPLICATE").With("username", username).Wrap(ErrDuplicateUsername)
}

func notFoundError(key, value string) error {
	return oops.Code("USER_NOT_FOUND").With(key, value).Wrap(ErrNotFound)
}

func storeError(operation string, err error) error {
	return oops.Code("USER_STORE_FAILED").With("operation", operation).Wrap(err)
}
