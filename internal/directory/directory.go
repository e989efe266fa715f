// Package directory - каталог профилей пользователей.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/storage"
)

// Store - часть хранилища, нужная каталогу.
type Store interface {
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error)
	GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error)
	GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
	GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error)
}

// Config - зависимости каталога, кроме хранилища.
type Config struct {
	Broker changefeed.Broker
	Guard  storage.Guard
	Logger *slog.Logger
	Clock  func() time.Time
}

// Directory читает и пишет профили.
type Directory struct {
	store  Store
	broker changefeed.Broker
	guard  storage.Guard
	logger *slog.Logger
	now    func() time.Time
}

// New создает каталог.
func New(store Store, cfg Config) *Directory {
	d := &Directory{
		store:  store,
		broker: cfg.Broker,
		guard:  cfg.Guard,
		logger: cfg.Logger,
		now:    cfg.Clock,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "directory")
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

func (d *Directory) clock() time.Time {
	return d.now().UTC().Truncate(time.Microsecond)
}

// UpsertProfile сливает профиль с сохраненным: заданные поля перезаписываются,
// остальные остаются как были. Адрес нормализуется, UpdatedAt проставляется.
// Адрес, занятый другим профилем, дает KindConflict.
func (d *Directory) UpsertProfile(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	const op = "directory.UpsertProfile"
	if profile == nil || profile.UID == "" {
		return nil, domain.E(domain.KindInvalidInput, op, "uid is required")
	}

	update := profile.Clone()
	update.Email = domain.NormalizeEmail(update.Email)
	if update.Email != "" {
		if err := domain.ValidateEmail(op, update.Email); err != nil {
			return nil, err
		}
	}
	if err := domain.ValidateDisplayName(op, update.Name); err != nil {
		return nil, err
	}
	if err := domain.ValidateDisplayName(op, update.DisplayName); err != nil {
		return nil, err
	}
	update.UpdatedAt = d.clock()

	var saved *domain.UserProfile
	err := d.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		saved, err = d.store.UpsertProfile(ctx, update)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.publish(ctx, saved.UID)
	return saved, nil
}

// GetProfileByID возвращает профиль или nil, если его нет.
func (d *Directory) GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error) {
	const op = "directory.GetProfileByID"
	if uid == "" {
		return nil, nil
	}

	var p *domain.UserProfile
	err := d.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		p, err = d.store.GetProfileByID(ctx, uid)
		return err
	})
	return absentAsNil(p, err)
}

// GetProfileByEmail ищет профиль без учета регистра адреса. Возвращает nil, если не найден.
func (d *Directory) GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	const op = "directory.GetProfileByEmail"
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	var p *domain.UserProfile
	err := d.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		p, err = d.store.GetProfileByEmail(ctx, email)
		return err
	})
	return absentAsNil(p, err)
}

// GetProfilesByIDs загружает профили пачкой. Отсутствующих ID в результате нет.
func (d *Directory) GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error) {
	const op = "directory.GetProfilesByIDs"
	var result map[string]*domain.UserProfile
	err := d.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		result, err = d.store.GetProfilesByIDs(ctx, uids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureProfile создает профиль для только что вошедшего аккаунта, если его еще нет.
// Заполненные поля существующего профиля не перезаписываются: дописываются только
// недостающие (email, имя, роль, статус, время создания) и обновляется время входа.
func (d *Directory) EnsureProfile(ctx context.Context, account domain.Account, name string) (*domain.UserProfile, error) {
	existing, err := d.GetProfileByID(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	now := d.clock()
	if name == "" {
		name = account.DisplayName
	}
	if existing == nil {
		return d.UpsertProfile(ctx, &domain.UserProfile{
			UID:            account.ID,
			Email:          account.Email,
			Name:           name,
			DisplayName:    account.DisplayName,
			PhotoURL:       account.PhotoURL,
			Role:           domain.RoleUser,
			Status:         domain.StatusActive,
			CreatedAt:      now,
			LastLoggedInAt: now,
		})
	}

	patch := &domain.UserProfile{UID: account.ID, LastLoggedInAt: now}
	if existing.Email == "" {
		patch.Email = account.Email
	}
	if existing.Name == "" {
		patch.Name = name
	}
	if existing.DisplayName == "" {
		patch.DisplayName = account.DisplayName
	}
	if existing.PhotoURL == "" {
		patch.PhotoURL = account.PhotoURL
	}
	if existing.Role == "" {
		patch.Role = domain.RoleUser
	}
	if existing.Status == "" {
		patch.Status = domain.StatusActive
	}
	if existing.CreatedAt.IsZero() {
		patch.CreatedAt = now
	}
	return d.UpsertProfile(ctx, patch)
}

// TouchLogin записывает время последнего входа. Профиль должен существовать,
// иначе KindNotFound: пустой профиль без email не создается.
func (d *Directory) TouchLogin(ctx context.Context, uid string) error {
	const op = "directory.TouchLogin"
	existing, err := d.GetProfileByID(ctx, uid)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.E(domain.KindNotFound, op, "profile not found")
	}
	_, err = d.UpsertProfile(ctx, &domain.UserProfile{UID: uid, LastLoggedInAt: d.clock()})
	return err
}

func (d *Directory) publish(ctx context.Context, uid string) {
	if d.broker == nil {
		return
	}
	ev := changefeed.NewEvent(changefeed.CollectionUsers, uid, uid, changefeed.OpUpdated, d.clock())
	if err := d.broker.Publish(ctx, ev); err != nil {
		d.logger.Warn("failed to publish profile change", "uid", uid, "error", err)
	}
}

func absentAsNil(p *domain.UserProfile, err error) (*domain.UserProfile, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
