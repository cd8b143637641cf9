package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/secret-gate/internal/user"
)

var (
	// ErrInvalidCredentials はユーザー名不明とパスワード不一致の両方で返されます。
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrMissingUsername はユーザー名が空の場合に返されます。
	ErrMissingUsername = errors.New("username is required")
	// ErrMissingPassword はパスワードが空の場合に返されます。
	ErrMissingPassword = errors.New("password is required")
)

// CredentialVerifier はユーザー名とパスワードを検証し、登録を行います。
type CredentialVerifier interface {
	// Register はパスワードをハッシュ化してユーザーを作成します。
	Register(ctx context.Context, username, password string) (*user.User, error)
	// Verify は資格情報を検証します。失敗時は常に ErrInvalidCredentials を返します。
	Verify(ctx context.Context, username, password string) (*user.User, error)
}

// StoreVerifier は bcrypt とユーザーストアによる CredentialVerifier 実装です。
type StoreVerifier struct {
	store     user.Store
	cost      int
	dummyHash []byte
}

// NewStoreVerifier は StoreVerifier を作成します。
func NewStoreVerifier(store user.Store, cost int) (*StoreVerifier, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	// 存在しないユーザーでも同じ計算量になるよう比較用のハッシュを用意する
	dummy, err := bcrypt.GenerateFromPassword([]byte("secret-gate-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &StoreVerifier{
		store:     store,
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

// Register はユーザーを作成します。
func (v *StoreVerifier) Register(ctx context.Context, username, password string) (*user.User, error) {
	if username == "" {
		return nil, ErrMissingUsername
	}
	if password == "" {
		return nil, ErrMissingPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := user.New(username, string(hash))
	if err := v.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Verify は資格情報を検証します。
func (v *StoreVerifier) Verify(ctx context.Context, username, password string) (*user.User, error) {
	u, err := v.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
