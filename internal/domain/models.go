package domain

import (
	"sort"
	"time"
)

// Роли и статусы профиля.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Post представляет пост блога. Все посты живут в одной коллекции,
// принадлежность автору задается полем OwnerID.
type Post struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID    string    `json:"ownerId" gorm:"type:varchar(128);not null;index:idx_posts_owner_created,priority:1"`
	Title      string    `json:"title" gorm:"type:varchar(255);not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	Image      string    `json:"image,omitempty" gorm:"type:text"`
	AuthorName string    `json:"authorName,omitempty" gorm:"type:varchar(255)"`
	UserName   string    `json:"userName,omitempty" gorm:"type:varchar(255)"` // legacy
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime:false;index;index:idx_posts_owner_created,priority:2,sort:desc"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`
}

// Clone возвращает независимую копию поста.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// PostFields - входные данные для создания поста.
type PostFields struct {
	Title      string
	Content    string
	Image      string
	AuthorName string
}

// PostPatch - частичное обновление поста. nil означает "не менять".
// Владелец и время создания сюда не входят и поменяться не могут.
type PostPatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Image   *string `json:"image,omitempty"`
}

// Empty сообщает, что патч ничего не меняет.
func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Image == nil
}

// Apply применяет патч к посту.
func (p PostPatch) Apply(post *Post) {
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Content != nil {
		post.Content = *p.Content
	}
	if p.Image != nil {
		post.Image = *p.Image
	}
}

// UserProfile - публичный профиль пользователя, ключ совпадает с ID аккаунта.
type UserProfile struct {
	UID            string    `json:"uid" gorm:"column:uid;type:varchar(128);primaryKey"`
	Email          string    `json:"email" gorm:"type:varchar(320);uniqueIndex:idx_user_profiles_email,where:email <> ''"`
	Name           string    `json:"name,omitempty" gorm:"type:varchar(255)"`
	DisplayName    string    `json:"displayName,omitempty" gorm:"type:varchar(255)"`
	PhotoURL       string    `json:"photoURL,omitempty" gorm:"column:photo_url;type:text"`
	Role           string    `json:"role" gorm:"type:varchar(32);not null;default:user"`
	Status         string    `json:"status" gorm:"type:varchar(32);not null;default:active"`
	CreatedAt      time.Time `json:"createdAt" gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`
	LastLoggedInAt time.Time `json:"lastLoggedInAt" gorm:"autoUpdateTime:false"`
}

// Clone возвращает независимую копию профиля.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Merge переносит в профиль непустые поля update. UID и CreatedAt,
// однажды заданные, не меняются.
func (p *UserProfile) Merge(update *UserProfile) {
	if p.UID == "" {
		p.UID = update.UID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = update.CreatedAt
	}
	if update.Email != "" {
		p.Email = update.Email
	}
	if update.Name != "" {
		p.Name = update.Name
	}
	if update.DisplayName != "" {
		p.DisplayName = update.DisplayName
	}
	if update.PhotoURL != "" {
		p.PhotoURL = update.PhotoURL
	}
	if update.Role != "" {
		p.Role = update.Role
	}
	if update.Status != "" {
		p.Status = update.Status
	}
	if !update.UpdatedAt.IsZero() {
		p.UpdatedAt = update.UpdatedAt
	}
	if !update.LastLoggedInAt.IsZero() {
		p.LastLoggedInAt = update.LastLoggedInAt
	}
}

// FeedEntry - пост в ленте с вычисленным именем автора.
type FeedEntry struct {
	Post        *Post  `json:"post"`
	AuthorName  string `json:"authorName"`
	Excerpt     string `json:"excerpt"`
	ReadMinutes int    `json:"readMinutes"`
}

// SortNewestFirst упорядочивает посты по убыванию времени создания,
// при равенстве - по убыванию ID.
func SortNewestFirst(posts []*Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}
