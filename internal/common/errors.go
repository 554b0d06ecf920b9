// Package common: errors.go определяет общие ошибки,
// которые используются во всех модулях сервиса.
// Эти ошибки позволяют вызывающему коду различать типы проблем
// через errors.Is и решать, что показать пользователю.
package common

import "errors"

// Ошибки поиска записей
var (
	// ErrUserNotFound: пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrPollNotFound: опрос не найден в базе
	ErrPollNotFound = errors.New("опрос не найден")
)

// Ошибки начисления очков
var (
	// ErrInvalidAction: неизвестный тип действия
	ErrInvalidAction = errors.New("неизвестный тип действия")
	// ErrZeroPoints: начисление на 0 очков не имеет смысла
	ErrZeroPoints = errors.New("количество очков не может быть нулевым")
)

// Ошибки модерации
var (
	// ErrTransitionConflict: опрос уже изменён другим процессом
	// (решение модератора и автоматическая эскалация гоняются за одну запись).
	ErrTransitionConflict = errors.New("состояние опроса уже изменено")
	// ErrInvalidDecision: недопустимое решение модератора
	ErrInvalidDecision = errors.New("недопустимое решение модератора")
	// ErrNotAssigned: модератор не назначен на этот опрос
	ErrNotAssigned = errors.New("модератор не назначен на этот опрос")
	// ErrNotAuthor: повторно отправить опрос может только автор
	ErrNotAuthor = errors.New("повторно отправить опрос может только автор")
)
