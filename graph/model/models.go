// Package model - входные и составные типы GraphQL-схемы.
package model

import "github.com/UkralStul/fexora/internal/domain"

// NewPost - аргумент createPost.
type NewPost struct {
	Title   string
	Content string
	Image   *string
}

// Fields переводит ввод в поля нового поста.
func (n NewPost) Fields() domain.PostFields {
	f := domain.PostFields{Title: n.Title, Content: n.Content}
	if n.Image != nil {
		f.Image = *n.Image
	}
	return f
}

// Me - текущий пользователь: аккаунт и профиль, если он уже создан.
type Me struct {
	Account *domain.Account
	Profile *domain.UserProfile
}
