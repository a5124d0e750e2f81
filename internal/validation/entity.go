package validation

import (
	"fmt"
	"regexp"
)

// EntityPattern - имя коллекции: строчные буквы, цифры, подчеркивание.
// Имя входит и в ключи хранилища, и в путь URL.
var EntityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateEntity проверяет имя коллекции записей
func ValidateEntity(entity string) error {
	if entity == "" {
		return fmt.Errorf("entity cannot be empty")
	}
	if !EntityPattern.MatchString(entity) {
		return fmt.Errorf("invalid entity %q: must start with a letter and contain only a-z, 0-9, _", entity)
	}
	return nil
}
