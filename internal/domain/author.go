package domain

import (
	"strings"
	"unicode/utf8"
)

// AnonymousAuthor - имя автора, когда ни профиль, ни снимок в посте его не дают.
const AnonymousAuthor = "Anonymous"

const (
	wordsPerMinuteChars = 200
	ExcerptLength       = 150
)

// ResolveAuthorName выбирает отображаемое имя автора поста:
// profile.Name, profile.DisplayName, post.AuthorName, post.UserName, AnonymousAuthor.
// Пустые и пробельные значения пропускаются. profile может быть nil.
func ResolveAuthorName(profile *UserProfile, post *Post) string {
	var candidates []string
	if profile != nil {
		candidates = append(candidates, profile.Name, profile.DisplayName)
	}
	if post != nil {
		candidates = append(candidates, post.AuthorName, post.UserName)
	}
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return AnonymousAuthor
}

// ReadMinutes оценивает время чтения: 200 символов в минуту, минимум одна минута.
func ReadMinutes(content string) int {
	n := utf8.RuneCountInString(content)
	minutes := (n + wordsPerMinuteChars - 1) / wordsPerMinuteChars
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Truncate обрезает строку до limit символов, добавляя многоточие.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}

// EmailLocalPart возвращает часть адреса до '@'.
func EmailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
