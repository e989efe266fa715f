package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/metrics"
	"github.com/UkralStul/fexora/internal/session"
)

// ProfileBootstrapper создает профиль пользователя при первом входе.
type ProfileBootstrapper interface {
	EnsureProfile(ctx context.Context, account domain.Account, name string) (*domain.UserProfile, error)
}

// FederatedCallback - параметры возврата от внешнего провайдера.
type FederatedCallback struct {
	Code  string
	Error string
	Nonce string
}

// GatewayConfig - зависимости шлюза.
type GatewayConfig struct {
	Provider  Provider
	Federated FederatedProvider
	Profiles  ProfileBootstrapper
	// Session - сессия по умолчанию, если в контексте запроса ее нет.
	Session *session.Context
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Gateway переводит ошибки провайдера в доменные виды и ведет текущую сессию.
type Gateway struct {
	provider  Provider
	federated FederatedProvider
	profiles  ProfileBootstrapper
	session   *session.Context
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewGateway создает шлюз.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		provider:  cfg.Provider,
		federated: cfg.Federated,
		profiles:  cfg.Profiles,
		session:   cfg.Session,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if g.session == nil {
		g.session = session.New()
	}
	if g.metrics == nil {
		g.metrics = metrics.NewNoop()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "identity")
	return g
}

// Session возвращает сессию запроса или сессию шлюза по умолчанию.
func (g *Gateway) Session(ctx context.Context) *session.Context {
	if s, ok := session.Lookup(ctx); ok {
		return s
	}
	return g.session
}

// Register создает аккаунт, профиль и открывает сессию.
func (g *Gateway) Register(ctx context.Context, email, password, name string) (handle *AccountHandle, err error) {
	const op = "identity.Register"
	defer func() { g.metrics.IncAuthOutcome(op, err) }()

	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(op, email); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := domain.ValidateDisplayName(op, name); err != nil {
		return nil, err
	}

	handle, err = g.provider.CreateAccount(ctx, email, password, name)
	if err != nil {
		return nil, translate(op, err)
	}
	if err := g.bootstrap(ctx, op, handle, name); err != nil {
		return nil, err
	}
	return handle, nil
}

// SignIn входит по адресу и паролю. Неверный пароль и неизвестный адрес
// неразличимы: оба дают KindInvalidCredential.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (handle *AccountHandle, err error) {
	const op = "identity.SignIn"
	defer func() { g.metrics.IncAuthOutcome(op, err) }()

	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.E(domain.KindInvalidCredential, op, "email and password are required")
	}

	handle, err = g.provider.VerifyPassword(ctx, email, password)
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrWrongPassword) {
		return nil, domain.E(domain.KindInvalidCredential, op, "invalid email or password")
	}
	if err != nil {
		return nil, translate(op, err)
	}
	if err := g.bootstrap(ctx, op, handle, ""); err != nil {
		return nil, err
	}
	return handle, nil
}

// FederatedLoginURL возвращает адрес страницы входа внешнего провайдера.
func (g *Gateway) FederatedLoginURL(state, nonce string) (string, error) {
	if g.federated == nil {
		return "", domain.E(domain.KindFederatedLoginFailed, "identity.FederatedLoginURL", "federated login is not configured")
	}
	return g.federated.AuthCodeURL(state, nonce), nil
}

// SignInFederated завершает федеративный вход. Отказ пользователя дает
// KindFederatedLoginCancelled, любая другая неудача - KindFederatedLoginFailed.
func (g *Gateway) SignInFederated(ctx context.Context, cb FederatedCallback) (handle *AccountHandle, err error) {
	const op = "identity.SignInFederated"
	defer func() { g.metrics.IncAuthOutcome(op, err) }()

	if g.federated == nil {
		return nil, domain.E(domain.KindFederatedLoginFailed, op, "federated login is not configured")
	}
	if cb.Error == "access_denied" || (cb.Error == "" && cb.Code == "") {
		return nil, domain.E(domain.KindFederatedLoginCancelled, op, "federated login cancelled")
	}
	if cb.Error != "" {
		return nil, domain.E(domain.KindFederatedLoginFailed, op, cb.Error)
	}
	if cb.Nonce == "" {
		return nil, domain.E(domain.KindFederatedLoginFailed, op, "nonce missing")
	}

	claims, err := g.federated.Exchange(ctx, cb.Code, cb.Nonce)
	if err != nil {
		return nil, domain.Wrap(domain.KindFederatedLoginFailed, op, err)
	}
	handle, err = g.provider.SignInFederated(ctx, claims)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmailExists):
		return nil, domain.Wrap(domain.KindEmailAlreadyInUse, op, err)
	case domain.IsTransient(err):
		return nil, err
	default:
		return nil, domain.Wrap(domain.KindFederatedLoginFailed, op, err)
	}
	if err := g.bootstrap(ctx, op, handle, claims.Name); err != nil {
		return nil, err
	}
	return handle, nil
}

// SignOut закрывает сессию. Локально выход всегда успешен;
// ошибка отзыва токена только пишется в лог.
func (g *Gateway) SignOut(ctx context.Context) {
	s := g.Session(ctx)
	token := s.Token()
	s.Clear()
	g.metrics.IncAuthOutcome("identity.SignOut", nil)
	if token == "" {
		return
	}
	if err := g.provider.RevokeSession(ctx, token); err != nil {
		g.logger.Warn("failed to revoke session token", "error", err)
	}
}

// RequestPasswordReset отправляет ссылку сброса пароля.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) (err error) {
	const op = "identity.RequestPasswordReset"
	defer func() { g.metrics.IncAuthOutcome(op, err) }()

	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(op, email); err != nil {
		return err
	}
	return translate(op, g.provider.SendPasswordReset(ctx, email))
}

// VerifyPasswordReset проверяет токен сброса и возвращает адрес, для которого он выпущен.
func (g *Gateway) VerifyPasswordReset(ctx context.Context, token string) (string, error) {
	const op = "identity.VerifyPasswordReset"
	email, err := g.provider.VerifyResetToken(ctx, token)
	if err != nil {
		return "", translate(op, err)
	}
	return email, nil
}

// ConfirmPasswordReset проверяет токен и устанавливает новый пароль.
func (g *Gateway) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (err error) {
	const op = "identity.ConfirmPasswordReset"
	defer func() { g.metrics.IncAuthOutcome(op, err) }()

	if _, err := g.provider.VerifyResetToken(ctx, token); err != nil {
		return translate(op, err)
	}
	return translate(op, g.provider.ConfirmPasswordReset(ctx, token, newPassword))
}

// ObserveSession подписывает fn на смену текущего аккаунта сессии запроса.
func (g *Gateway) ObserveSession(ctx context.Context, fn session.Observer) (unsubscribe func()) {
	return g.Session(ctx).Observe(fn)
}

// RestoreSession восстанавливает сессию по токену. Недействительный токен дает KindUnauthenticated.
func (g *Gateway) RestoreSession(ctx context.Context, token string) (*domain.Account, error) {
	const op = "identity.RestoreSession"
	if token == "" {
		return nil, domain.E(domain.KindUnauthenticated, op, "missing session token")
	}
	account, err := g.provider.ResolveSession(ctx, token)
	if err != nil {
		if domain.IsTransient(err) {
			return nil, err
		}
		return nil, domain.Wrap(domain.KindUnauthenticated, op, err)
	}
	g.Session(ctx).Set(account, token)
	return account, nil
}

func (g *Gateway) bootstrap(ctx context.Context, op string, handle *AccountHandle, name string) error {
	if g.profiles != nil {
		if _, err := g.profiles.EnsureProfile(ctx, handle.Account, name); err != nil {
			g.logger.Error("failed to ensure user profile", "uid", handle.Account.ID, "error", err)
			return err
		}
	}
	g.Session(ctx).Set(&handle.Account, handle.Token)
	return nil
}

// translate переводит ошибку провайдера в доменный вид.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, ErrEmailExists):
		return domain.Wrap(domain.KindEmailAlreadyInUse, op, err)
	case errors.Is(err, ErrWeakPassword):
		return domain.Wrap(domain.KindWeakCredential, op, err)
	case errors.Is(err, ErrWrongPassword):
		return domain.Wrap(domain.KindInvalidCredential, op, err)
	case errors.Is(err, ErrUserNotFound):
		return domain.Wrap(domain.KindAccountNotFound, op, err)
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return domain.Wrap(domain.KindInvalidOrExpiredToken, op, err)
	default:
		return domain.Wrap(domain.KindInternal, op, err)
	}
}
