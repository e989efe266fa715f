package domain

import "time"

// Account - пользователь с точки зрения провайдера идентификации.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Credential - учетная запись локального провайдера.
// PasswordHash пуст для аккаунтов, созданных только через федеративный вход.
type Credential struct {
	ID           string    `gorm:"type:varchar(128);primaryKey"`
	Email        string    `gorm:"type:varchar(320);not null;uniqueIndex"`
	PasswordHash string    `gorm:"type:text"`
	DisplayName  string    `gorm:"type:varchar(255)"`
	PhotoURL     string    `gorm:"column:photo_url;type:text"`
	Provider     string    `gorm:"type:varchar(64);not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

// TableName задает имя таблицы для gorm.
func (Credential) TableName() string { return "accounts" }

// Account возвращает публичное представление учетной записи.
func (c *Credential) Account() Account {
	return Account{
		ID:          c.ID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		PhotoURL:    c.PhotoURL,
		Provider:    c.Provider,
		CreatedAt:   c.CreatedAt,
	}
}

// FederatedIdentity связывает субъекта внешнего провайдера с аккаунтом.
type FederatedIdentity struct {
	Provider  string    `gorm:"type:varchar(64);primaryKey"`
	Subject   string    `gorm:"type:varchar(255);primaryKey"`
	AccountID string    `gorm:"type:varchar(128);not null;index"`
	Email     string    `gorm:"type:varchar(320)"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

// ResetToken - одноразовый токен сброса пароля. Хранится только хеш.
type ResetToken struct {
	TokenHash string     `gorm:"type:char(64);primaryKey"`
	AccountID string     `gorm:"type:varchar(128);not null;index"`
	Email     string     `gorm:"type:varchar(320);not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time  `gorm:"not null;autoCreateTime:false"`
}

// TableName задает имя таблицы для gorm.
func (ResetToken) TableName() string { return "password_reset_tokens" }
