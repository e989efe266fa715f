package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store реализует интерфейсы Storage и AccountStore с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New создает новый экземпляр хранилища PostgreSQL.
// logLevel - уровень логирования gorm: silent, error, warn или info.
func New(dsn, logLevel string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(parseLogLevel(logLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Выполняем миграцию схемы
	if err := db.AutoMigrate(
		&domain.UserProfile{},
		&domain.Post{},
		&domain.Credential{},
		&domain.FederatedIdentity{},
		&domain.ResetToken{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return classify(sqlDB.PingContext(ctx))
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === Profile Methods ===

func (s *Store) UpsertProfile(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	var result domain.UserProfile
	// Первая вставка идет через ON CONFLICT DO NOTHING: при гонке двух первых
	// записей проигравшая не падает на первичном ключе, а сливается с победившей.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := domain.UserProfile{}
		fresh.Merge(profile)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}},
			DoNothing: true,
		}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			result = fresh
			return nil
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&result, "uid = ?", profile.UID).Error; err != nil {
			return err
		}
		result.Merge(profile)
		return tx.Save(&result).Error
	})
	if err != nil {
		return nil, classify(err)
	}
	return &result, nil
}

func (s *Store) GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := s.db.WithContext(ctx).Take(&p, "uid = ?", uid).Error; err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := s.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at ASC").
		Take(&p).Error
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	stored := post.Clone()
	stored.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(stored).Error; err != nil {
		return nil, classify(err)
	}
	return stored, nil
}

func (s *Store) UpdatePost(ctx context.Context, id, ownerID string, patch domain.PostPatch, updatedAt time.Time) (*domain.Post, error) {
	var post domain.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOwnedPost(tx, &post, id, ownerID); err != nil {
			return err
		}
		patch.Apply(&post)
		if updatedAt.After(post.UpdatedAt) {
			post.UpdatedAt = updatedAt
		}
		return tx.Save(&post).Error
	})
	if err != nil {
		return nil, classify(err)
	}
	return &post, nil
}

func (s *Store) DeletePost(ctx context.Context, id, ownerID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post domain.Post
		if err := lockOwnedPost(tx, &post, id, ownerID); err != nil {
			return err
		}
		return tx.Delete(&domain.Post{}, "id = ?", id).Error
	})
	return classify(err)
}

func lockOwnedPost(tx *gorm.DB, post *domain.Post, id, ownerID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("post with id %s not found: %w", id, storage.ErrNotFound)
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(post, "id = ?", id).Error; err != nil {
		return err
	}
	if post.OwnerID != ownerID {
		return fmt.Errorf("post with id %s: %w", id, storage.ErrForbidden)
	}
	return nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		// иначе postgres вернет ошибку синтаксиса uuid
		return nil, fmt.Errorf("post with id %s not found: %w", id, storage.ErrNotFound)
	}
	var post domain.Post
	if err := s.db.WithContext(ctx).Take(&post, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &post, nil
}

func (s *Store) ListPosts(ctx context.Context, q storage.PostQuery) ([]*domain.Post, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if q.OwnerID != "" {
		query = query.Where("owner_id = ?", q.OwnerID)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var posts []*domain.Post
	if err := query.Find(&posts).Error; err != nil {
		return nil, classify(err)
	}
	return posts, nil
}

// === Dataloader Method ===

func (s *Store) GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error) {
	result := make(map[string]*domain.UserProfile, len(uids))
	if len(uids) == 0 {
		return result, nil
	}

	// Загружаем все профили одним запросом
	var profiles []*domain.UserProfile
	if err := s.db.WithContext(ctx).Where("uid IN ?", uids).Find(&profiles).Error; err != nil {
		return nil, classify(err)
	}
	for _, p := range profiles {
		result[p.UID] = p
	}
	return result, nil
}

// === Account Methods ===

func (s *Store) CreateAccount(ctx context.Context, c *domain.Credential) error {
	return classify(s.db.WithContext(ctx).Create(c).Error)
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Credential, error) {
	var c domain.Credential
	if err := s.db.WithContext(ctx).Take(&c, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	var c domain.Credential
	if err := s.db.WithContext(ctx).Take(&c, "email = ?", email).Error; err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": at})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account with id %s not found: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) FindFederatedIdentity(ctx context.Context, provider, subject string) (*domain.FederatedIdentity, error) {
	var fi domain.FederatedIdentity
	err := s.db.WithContext(ctx).Take(&fi, "provider = ? AND subject = ?", provider, subject).Error
	if err != nil {
		return nil, classify(err)
	}
	return &fi, nil
}

func (s *Store) LinkFederatedIdentity(ctx context.Context, fi *domain.FederatedIdentity) error {
	return classify(s.db.WithContext(ctx).Create(fi).Error)
}

func (s *Store) SaveResetToken(ctx context.Context, t *domain.ResetToken) error {
	return classify(s.db.WithContext(ctx).Create(t).Error)
}

func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	var t domain.ResetToken
	if err := s.db.WithContext(ctx).Take(&t, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (s *Store) MarkResetTokenUsed(ctx context.Context, tokenHash string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&domain.ResetToken{}).
		Where("token_hash = ? AND used_at IS NULL", tokenHash).
		Update("used_at", at)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reset token not found: %w", storage.ErrNotFound)
	}
	return nil
}

// classify сводит ошибки gorm и драйвера к ошибкам пакета storage.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrForbidden),
		errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn), pgconn.Timeout(err):
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retryableCode(pgErr.Code) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

// retryableCode - коды SQLSTATE, после которых операцию можно повторить.
func retryableCode(code string) bool {
	switch {
	case len(code) >= 2 && code[:2] == "08": // connection exception
		return true
	case code == "40001", code == "40P01", code == "53300", code == "57P01", code == "57P03":
		return true
	}
	return false
}

var (
	_ storage.Storage      = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)
