package storage

import (
	"context"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
)

// PostQuery - параметры выборки постов. Результат всегда упорядочен
// по убыванию CreatedAt, при равенстве - по убыванию ID.
type PostQuery struct {
	OwnerID string // пусто - все посты
	Limit   int    // 0 - без ограничения
}

// Storage определяет контракт для хранилищ профилей и постов.
type Storage interface {
	// UpsertProfile сливает профиль с уже сохраненным (непустые поля перезаписывают старые).
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error)
	GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error)
	// GetProfileByEmail ищет по нормализованному адресу; из нескольких совпадений берет самый ранний.
	GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error)

	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	// UpdatePost применяет патч к посту владельца ownerID.
	UpdatePost(ctx context.Context, id, ownerID string, patch domain.PostPatch, updatedAt time.Time) (*domain.Post, error)
	DeletePost(ctx context.Context, id, ownerID string) error
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ListPosts(ctx context.Context, q PostQuery) ([]*domain.Post, error)

	// Метод для Dataloader'ов
	GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error)

	Ping(ctx context.Context) error
	Close() error
}

// AccountStore хранит учетные записи локального провайдера идентификации.
type AccountStore interface {
	CreateAccount(ctx context.Context, c *domain.Credential) error
	GetAccountByID(ctx context.Context, id string) (*domain.Credential, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Credential, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error

	FindFederatedIdentity(ctx context.Context, provider, subject string) (*domain.FederatedIdentity, error)
	LinkFederatedIdentity(ctx context.Context, fi *domain.FederatedIdentity) error

	SaveResetToken(ctx context.Context, t *domain.ResetToken) error
	GetResetToken(ctx context.Context, tokenHash string) (*domain.ResetToken, error)
	// MarkResetTokenUsed атомарно гасит токен; повторный вызов возвращает ErrNotFound.
	MarkResetTokenUsed(ctx context.Context, tokenHash string, at time.Time) error
}
