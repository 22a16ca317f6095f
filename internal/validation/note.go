package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// RoomNamePattern определяет допустимый формат имени комнаты
// Формат: "note-<id>", где id — положительное число без ведущих нулей
var RoomNamePattern = regexp.MustCompile(`^note-[1-9][0-9]*$`)

const (
	// MaxTitleLen максимальная длина заголовка заметки в рунах
	MaxTitleLen = 256
	// MaxItemContentLen максимальная длина текста пункта чеклиста в рунах
	MaxItemContentLen = 2048
)

// Допустимые роли соавтора
var validRoles = map[string]struct{}{
	"editor": {},
	"viewer": {},
}

// ValidateTitle проверяет заголовок заметки
func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("title must not exceed %d characters", MaxTitleLen)
	}
	return nil
}

// ValidateItemContent проверяет текст пункта чеклиста
func ValidateItemContent(content string) error {
	if utf8.RuneCountInString(content) > MaxItemContentLen {
		return fmt.Errorf("item content must not exceed %d characters", MaxItemContentLen)
	}
	return nil
}

// ValidateRoomName проверяет, что имя комнаты в формате "note-<id>"
func ValidateRoomName(room string) error {
	if room == "" {
		return fmt.Errorf("room name cannot be empty")
	}
	if !RoomNamePattern.MatchString(room) {
		return fmt.Errorf("room name must be in the form note-<id>")
	}
	return nil
}

// ValidateRole проверяет роль соавтора
func ValidateRole(role string) error {
	if _, ok := validRoles[role]; !ok {
		return fmt.Errorf("role must be either editor or viewer")
	}
	return nil
}
