package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/storage"
	"github.com/google/uuid"
)

const resetTokenBytes = 32

// LocalConfig - зависимости локального провайдера.
type LocalConfig struct {
	Tokens   *TokenIssuer
	Revoker  Revoker
	Mailer   Mailer
	Hash     Argon2Params
	ResetTTL time.Duration
	// ResetURL - страница, на которую ведет ссылка из письма; токен добавляется параметром token.
	ResetURL string
	Guard    storage.Guard
	Logger   *slog.Logger
	Clock    func() time.Time
}

// LocalProvider - провайдер идентификации поверх собственного хранилища аккаунтов.
type LocalProvider struct {
	store    storage.AccountStore
	tokens   *TokenIssuer
	revoker  Revoker
	mailer   Mailer
	hash     Argon2Params
	resetTTL time.Duration
	resetURL string
	guard    storage.Guard
	logger   *slog.Logger
	now      func() time.Time
}

// NewLocalProvider создает LocalProvider.
func NewLocalProvider(store storage.AccountStore, cfg LocalConfig) *LocalProvider {
	p := &LocalProvider{
		store:    store,
		tokens:   cfg.Tokens,
		revoker:  cfg.Revoker,
		mailer:   cfg.Mailer,
		hash:     cfg.Hash,
		resetTTL: cfg.ResetTTL,
		resetURL: cfg.ResetURL,
		guard:    cfg.Guard,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "identity.local")
	if p.now == nil {
		p.now = time.Now
	}
	if p.revoker == nil {
		p.revoker = NewMemoryRevoker(p.now)
	}
	if p.mailer == nil {
		p.mailer = LogMailer{Logger: p.logger}
	}
	if p.hash == (Argon2Params{}) {
		p.hash = DefaultArgon2Params
	}
	if p.resetTTL <= 0 {
		p.resetTTL = time.Hour
	}
	return p
}

func (p *LocalProvider) clock() time.Time {
	return p.now().UTC().Truncate(time.Microsecond)
}

// CreateAccount регистрирует аккаунт с паролем и сразу открывает сессию.
func (p *LocalProvider) CreateAccount(ctx context.Context, email, password, displayName string) (*AccountHandle, error) {
	const op = "identity.local.CreateAccount"
	if utf8.RuneCountInString(password) < domain.MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password, p.hash)
	if err != nil {
		return nil, err
	}
	now := p.clock()
	cred := &domain.Credential{
		ID:           uuid.NewString(),
		Email:        domain.NormalizeEmail(email),
		PasswordHash: hash,
		DisplayName:  displayName,
		Provider:     ProviderPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.createAccount(ctx, op, cred); err != nil {
		return nil, err
	}
	return p.issue(cred.Account())
}

// VerifyPassword проверяет пароль и открывает сессию.
func (p *LocalProvider) VerifyPassword(ctx context.Context, email, password string) (*AccountHandle, error) {
	const op = "identity.local.VerifyPassword"
	cred, err := p.accountByEmail(ctx, op, domain.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	// аккаунт создан федеративным входом и пароля не имеет
	if cred.PasswordHash == "" {
		return nil, ErrWrongPassword
	}

	ok, err := CheckPassword(password, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, ErrWrongPassword
	}
	return p.issue(cred.Account())
}

// SignInFederated находит аккаунт по субъекту внешнего провайдера. Если связи нет,
// аккаунт с тем же подтвержденным адресом связывается с субъектом, иначе создается новый.
func (p *LocalProvider) SignInFederated(ctx context.Context, claims *FederatedClaims) (*AccountHandle, error) {
	const op = "identity.local.SignInFederated"
	if claims == nil || claims.Subject == "" || claims.Provider == "" {
		return nil, ErrInvalidToken
	}
	email := domain.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: federated identity has no email", ErrInvalidToken)
	}

	var link *domain.FederatedIdentity
	err := p.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		link, err = p.store.FindFederatedIdentity(ctx, claims.Provider, claims.Subject)
		return err
	})
	switch {
	case err == nil:
		cred, err := p.accountByID(ctx, op, link.AccountID)
		if err != nil {
			return nil, err
		}
		return p.issue(cred.Account())
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	cred, err := p.accountByEmail(ctx, op, email)
	switch {
	case err == nil:
		if !claims.EmailVerified {
			return nil, ErrEmailExists
		}
	case errors.Is(err, ErrUserNotFound):
		now := p.clock()
		cred = &domain.Credential{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: claims.Name,
			PhotoURL:    claims.Picture,
			Provider:    claims.Provider,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.createAccount(ctx, op, cred); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	err = p.guard.Do(ctx, op, false, func(ctx context.Context) error {
		return p.store.LinkFederatedIdentity(ctx, &domain.FederatedIdentity{
			Provider:  claims.Provider,
			Subject:   claims.Subject,
			AccountID: cred.ID,
			Email:     email,
			CreatedAt: p.clock(),
		})
	})
	// параллельный вход уже создал связь
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	return p.issue(cred.Account())
}

// SendPasswordReset выпускает одноразовый токен сброса и отправляет ссылку на адрес аккаунта.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	const op = "identity.local.SendPasswordReset"
	cred, err := p.accountByEmail(ctx, op, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("%s: generate token: %w", op, err)
	}
	token := hex.EncodeToString(raw)

	now := p.clock()
	err = p.guard.Do(ctx, op, false, func(ctx context.Context) error {
		return p.store.SaveResetToken(ctx, &domain.ResetToken{
			TokenHash: hashToken(token),
			AccountID: cred.ID,
			Email:     cred.Email,
			ExpiresAt: now.Add(p.resetTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	if err := p.mailer.SendPasswordReset(ctx, cred.Email, p.resetLink(token)); err != nil {
		return fmt.Errorf("%s: deliver reset link: %w", op, err)
	}
	return nil
}

func (p *LocalProvider) resetLink(token string) string {
	u, err := url.Parse(p.resetURL)
	if err != nil || p.resetURL == "" {
		return "?token=" + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// VerifyResetToken проверяет токен сброса, не погашая его.
func (p *LocalProvider) VerifyResetToken(ctx context.Context, token string) (string, error) {
	rt, err := p.resetToken(ctx, "identity.local.VerifyResetToken", token)
	if err != nil {
		return "", err
	}
	return rt.Email, nil
}

// ConfirmPasswordReset гасит токен и меняет пароль. Токен гасится до смены пароля,
// поэтому из двух одновременных подтверждений успешно только одно.
func (p *LocalProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	const op = "identity.local.ConfirmPasswordReset"
	if utf8.RuneCountInString(newPassword) < domain.MinResetPasswordLength {
		return ErrWeakPassword
	}

	rt, err := p.resetToken(ctx, op, token)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, p.hash)
	if err != nil {
		return err
	}

	now := p.clock()
	err = p.guard.Do(ctx, op, false, func(ctx context.Context) error {
		return p.store.MarkResetTokenUsed(ctx, rt.TokenHash, now)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}

	return p.guard.Do(ctx, op, true, func(ctx context.Context) error {
		return p.store.UpdatePasswordHash(ctx, rt.AccountID, hash, now)
	})
}

func (p *LocalProvider) resetToken(ctx context.Context, op, token string) (*domain.ResetToken, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var rt *domain.ResetToken
	err := p.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		rt, err = p.store.GetResetToken(ctx, hashToken(token))
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if rt.UsedAt != nil {
		return nil, ErrInvalidToken
	}
	if !p.clock().Before(rt.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	return rt, nil
}

// ResolveSession возвращает аккаунт по действующему токену сессии.
func (p *LocalProvider) ResolveSession(ctx context.Context, token string) (*domain.Account, error) {
	const op = "identity.local.ResolveSession"
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := p.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, op, err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	cred, err := p.accountByID(ctx, op, claims.Subject)
	if err != nil {
		return nil, err
	}
	account := cred.Account()
	return &account, nil
}

// RevokeSession отзывает токен до конца его срока. Истекший токен отзывать не нужно.
func (p *LocalProvider) RevokeSession(ctx context.Context, token string) error {
	claims, err := p.tokens.Parse(token)
	if errors.Is(err, ErrExpiredToken) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (p *LocalProvider) issue(account domain.Account) (*AccountHandle, error) {
	token, expiresAt, err := p.tokens.Issue(account)
	if err != nil {
		return nil, err
	}
	return &AccountHandle{Account: account, Token: token, ExpiresAt: expiresAt}, nil
}

func (p *LocalProvider) createAccount(ctx context.Context, op string, cred *domain.Credential) error {
	err := p.guard.Do(ctx, op, false, func(ctx context.Context) error {
		return p.store.CreateAccount(ctx, cred)
	})
	if errors.Is(err, domain.ErrConflict) {
		return ErrEmailExists
	}
	return err
}

func (p *LocalProvider) accountByEmail(ctx context.Context, op, email string) (*domain.Credential, error) {
	var cred *domain.Credential
	err := p.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		cred, err = p.store.GetAccountByEmail(ctx, email)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return cred, err
}

func (p *LocalProvider) accountByID(ctx context.Context, op, id string) (*domain.Credential, error) {
	var cred *domain.Credential
	err := p.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		cred, err = p.store.GetAccountByID(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return cred, err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ Provider = (*LocalProvider)(nil)
