// Package identity - шлюз к провайдеру идентификации: регистрация, вход,
// выход, сброс пароля и текущая сессия.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
)

// Ошибки провайдера. Шлюз переводит их в доменные виды.
var (
	ErrEmailExists   = errors.New("email already registered")
	ErrWeakPassword  = errors.New("password is too weak")
	ErrWrongPassword = errors.New("wrong password")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
)

// ProviderPassword - имя провайдера для входа по адресу и паролю.
const ProviderPassword = "password"

// AccountHandle - результат успешного входа.
type AccountHandle struct {
	Account   domain.Account `json:"account"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// FederatedClaims - проверенные сведения о пользователе от внешнего провайдера.
type FederatedClaims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Provider - граница с провайдером идентификации.
type Provider interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (*AccountHandle, error)
	VerifyPassword(ctx context.Context, email, password string) (*AccountHandle, error)
	SignInFederated(ctx context.Context, claims *FederatedClaims) (*AccountHandle, error)

	SendPasswordReset(ctx context.Context, email string) error
	// VerifyResetToken проверяет токен сброса и возвращает адрес его владельца.
	VerifyResetToken(ctx context.Context, token string) (string, error)
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error

	ResolveSession(ctx context.Context, token string) (*domain.Account, error)
	RevokeSession(ctx context.Context, token string) error
}

// FederatedProvider - внешний провайдер входа (OAuth2/OIDC).
type FederatedProvider interface {
	Name() string
	AuthCodeURL(state, nonce string) string
	// Exchange меняет код авторизации на проверенные сведения о пользователе.
	Exchange(ctx context.Context, code, nonce string) (*FederatedClaims, error)
}
