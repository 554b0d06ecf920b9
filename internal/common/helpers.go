// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с часовыми поясами, границы суток, форматирование очков.
package common

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoadLocation загружает часовой пояс по имени из конфига.
// Если зона не найдена (нет tzdata в контейнере): возвращает UTC и пишет предупреждение.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.WithError(err).WithField("timezone", name).Warn("Не удалось загрузить часовой пояс, используем UTC")
		return time.UTC
	}
	return loc
}

// StartOfDay возвращает начало календарных суток (00:00) для момента now в зоне loc.
// Граница дневных лимитов считается только через эту функцию,
// поэтому результат не зависит от часового пояса хоста.
//
// Пример:
//
//	StartOfDay(2024-05-10 01:30 MSK, Moscow) → 2024-05-10 00:00 MSK
//	StartOfDay(2024-05-09 22:30 UTC, Moscow) → 2024-05-10 00:00 MSK
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatPointsDelta создаёт строку вида "+50 Points" или "-10 Points".
// Знак «+» добавляется явно для положительных значений.
//
// Примеры:
//
//	FormatPointsDelta(50)  → "+50 Points"
//	FormatPointsDelta(-10) → "-10 Points"
func FormatPointsDelta(points int64) string {
	if points > 0 {
		return fmt.Sprintf("+%d Points", points)
	}
	return fmt.Sprintf("%d Points", points)
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в указанной зоне.
// Используется в алертах модераторам.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// Int64Ptr возвращает указатель на копию значения.
func Int64Ptr(v int64) *int64 {
	return &v
}

// TimePtr возвращает указатель на копию значения.
func TimePtr(t time.Time) *time.Time {
	return &t
}
