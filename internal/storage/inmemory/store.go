package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/storage"
	"github.com/google/uuid"
)

// Store реализует интерфейсы Storage и AccountStore в памяти.
// Наружу отдаются только копии, чтобы вызывающий код не мог изменить состояние в обход блокировки.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]*domain.Post
	profiles map[string]*domain.UserProfile
	// map[email]uid - уникальный индекс по нормализованному адресу
	profileEmails map[string]string

	accounts      map[string]*domain.Credential
	accountEmails map[string]string
	federated     map[string]*domain.FederatedIdentity // map[provider+"|"+subject]
	resetTokens   map[string]*domain.ResetToken
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		posts:         make(map[string]*domain.Post),
		profiles:      make(map[string]*domain.UserProfile),
		profileEmails: make(map[string]string),
		accounts:      make(map[string]*domain.Credential),
		accountEmails: make(map[string]string),
		federated:     make(map[string]*domain.FederatedIdentity),
		resetTokens:   make(map[string]*domain.ResetToken),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// === Profile Methods ===

func (s *Store) UpsertProfile(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.Email != "" {
		if owner, ok := s.profileEmails[profile.Email]; ok && owner != profile.UID {
			return nil, fmt.Errorf("email %s is used by another profile: %w", profile.Email, storage.ErrConflict)
		}
	}

	current, ok := s.profiles[profile.UID]
	if !ok {
		current = &domain.UserProfile{}
	}
	oldEmail := current.Email
	current.Merge(profile)

	if oldEmail != "" && oldEmail != current.Email {
		delete(s.profileEmails, oldEmail)
	}
	if current.Email != "" {
		s.profileEmails[current.Email] = current.UID
	}
	s.profiles[current.UID] = current
	return current.Clone(), nil
}

func (s *Store) GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[uid]
	if !ok {
		return nil, fmt.Errorf("profile with id %s not found: %w", uid, storage.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.profileEmails[email]
	if !ok {
		return nil, fmt.Errorf("profile with email %s not found: %w", email, storage.ErrNotFound)
	}
	return s.profiles[uid].Clone(), nil
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := post.Clone()
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.posts[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) UpdatePost(ctx context.Context, id, ownerID string, patch domain.PostPatch, updatedAt time.Time) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, err := s.ownedPost(id, ownerID)
	if err != nil {
		return nil, err
	}
	patch.Apply(post)
	if updatedAt.After(post.UpdatedAt) {
		post.UpdatedAt = updatedAt
	}
	return post.Clone(), nil
}

func (s *Store) DeletePost(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedPost(id, ownerID); err != nil {
		return err
	}
	delete(s.posts, id)
	return nil
}

func (s *Store) ownedPost(id, ownerID string) (*domain.Post, error) {
	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s not found: %w", id, storage.ErrNotFound)
	}
	if post.OwnerID != ownerID {
		return nil, fmt.Errorf("post with id %s: %w", id, storage.ErrForbidden)
	}
	return post, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s not found: %w", id, storage.ErrNotFound)
	}
	return post.Clone(), nil
}

func (s *Store) ListPosts(ctx context.Context, q storage.PostQuery) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if q.OwnerID != "" && p.OwnerID != q.OwnerID {
			continue
		}
		result = append(result, p.Clone())
	}

	domain.SortNewestFirst(result)

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// === Dataloader Methods ===

func (s *Store) GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]*domain.UserProfile, len(uids))
	for _, uid := range uids {
		if p, ok := s.profiles[uid]; ok {
			results[uid] = p.Clone()
		}
	}
	return results, nil
}

// === Account Methods ===

func (s *Store) CreateAccount(ctx context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountEmails[c.Email]; ok {
		return fmt.Errorf("account with email %s: %w", c.Email, storage.ErrConflict)
	}
	if _, ok := s.accounts[c.ID]; ok {
		return fmt.Errorf("account with id %s: %w", c.ID, storage.ErrConflict)
	}
	stored := *c
	s.accounts[c.ID] = &stored
	s.accountEmails[c.Email] = c.ID
	return nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account with id %s not found: %w", id, storage.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountEmails[email]
	if !ok {
		return nil, fmt.Errorf("account with email %s not found: %w", email, storage.ErrNotFound)
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account with id %s not found: %w", id, storage.ErrNotFound)
	}
	c.PasswordHash = hash
	c.UpdatedAt = at
	return nil
}

func federatedKey(provider, subject string) string {
	return provider + "|" + subject
}

func (s *Store) FindFederatedIdentity(ctx context.Context, provider, subject string) (*domain.FederatedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fi, ok := s.federated[federatedKey(provider, subject)]
	if !ok {
		return nil, fmt.Errorf("federated identity %s/%s not found: %w", provider, subject, storage.ErrNotFound)
	}
	cp := *fi
	return &cp, nil
}

func (s *Store) LinkFederatedIdentity(ctx context.Context, fi *domain.FederatedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := federatedKey(fi.Provider, fi.Subject)
	if _, ok := s.federated[key]; ok {
		return fmt.Errorf("federated identity %s: %w", key, storage.ErrConflict)
	}
	stored := *fi
	s.federated[key] = &stored
	return nil
}

func (s *Store) SaveResetToken(ctx context.Context, t *domain.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *t
	s.resetTokens[t.TokenHash] = &stored
	return nil
}

func (s *Store) GetResetToken(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("reset token not found: %w", storage.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) MarkResetTokenUsed(ctx context.Context, tokenHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resetTokens[tokenHash]
	if !ok || t.UsedAt != nil {
		return fmt.Errorf("reset token not found: %w", storage.ErrNotFound)
	}
	used := at
	t.UsedAt = &used
	return nil
}

var (
	_ storage.Storage      = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)
