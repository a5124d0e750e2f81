package validation

import (
	"fmt"
	"regexp"
)

// UserIDPattern определяет допустимый формат идентификатора пользователя.
// Идентификатор входит в ключи локального хранилища, поэтому набор символов
// ограничен: латинские буквы, цифры, дефис.
// Длина: 3-64 символа
var UserIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{3,64}$`)

const (
	// MinUserIDLen минимальная длина user id
	MinUserIDLen = 3
	// MaxUserIDLen максимальная длина user id
	MaxUserIDLen = 64
)

// ValidateUserID проверяет, что user id можно использовать в ключах хранилища
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if len(userID) < MinUserIDLen {
		return fmt.Errorf("user id must be at least %d characters long", MinUserIDLen)
	}

	if len(userID) > MaxUserIDLen {
		return fmt.Errorf("user id must not exceed %d characters", MaxUserIDLen)
	}

	if !UserIDPattern.MatchString(userID) {
		return fmt.Errorf("user id can only contain letters (a-z, A-Z), numbers (0-9), and hyphens (-)")
	}

	return nil
}
