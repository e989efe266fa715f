package domain

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 200
	MaxContentLength     = 20000
	MaxImageBytes        = 1 << 20
	MaxDisplayNameLength = 100

	MinPasswordLength      = 6
	MinResetPasswordLength = 8
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail приводит адрес к каноническому виду: без пробелов по краям, в нижнем регистре.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail проверяет уже нормализованный адрес.
func ValidateEmail(op, email string) error {
	if !emailPattern.MatchString(email) {
		return E(KindInvalidInput, op, "email is not valid")
	}
	return nil
}

// ValidatePostFields проверяет поля нового поста.
func ValidatePostFields(op string, f PostFields) error {
	if err := validateTitle(op, f.Title); err != nil {
		return err
	}
	if err := validateContent(op, f.Content); err != nil {
		return err
	}
	if err := validateImage(op, f.Image); err != nil {
		return err
	}
	if utf8.RuneCountInString(f.AuthorName) > MaxDisplayNameLength {
		return E(KindInvalidInput, op, "author name is too long")
	}
	return nil
}

// ValidatePostPatch проверяет частичное обновление.
func ValidatePostPatch(op string, p PostPatch) error {
	if p.Empty() {
		return E(KindInvalidInput, op, "nothing to update")
	}
	if p.Title != nil {
		if err := validateTitle(op, *p.Title); err != nil {
			return err
		}
	}
	if p.Content != nil {
		if err := validateContent(op, *p.Content); err != nil {
			return err
		}
	}
	if p.Image != nil {
		if err := validateImage(op, *p.Image); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDisplayName проверяет имя профиля.
func ValidateDisplayName(op, name string) error {
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return E(KindInvalidInput, op, "name is too long")
	}
	return nil
}

func validateTitle(op, title string) error {
	if strings.TrimSpace(title) == "" {
		return E(KindInvalidInput, op, "title cannot be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return E(KindInvalidInput, op, "title is too long")
	}
	return nil
}

func validateContent(op, content string) error {
	if strings.TrimSpace(content) == "" {
		return E(KindInvalidInput, op, "content cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return E(KindInvalidInput, op, "content is too long")
	}
	return nil
}

// validateImage допускает пустое значение, data URL изображения или http(s) ссылку.
func validateImage(op, image string) error {
	if image == "" {
		return nil
	}
	if len(image) > MaxImageBytes {
		return E(KindInvalidInput, op, "image is too large")
	}
	if strings.HasPrefix(image, "data:image/") {
		if !strings.Contains(image, ";base64,") {
			return E(KindInvalidInput, op, "image data URL must be base64 encoded")
		}
		return nil
	}
	u, err := url.Parse(image)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return E(KindInvalidInput, op, "image must be a data URL or an http(s) link")
	}
	return nil
}
