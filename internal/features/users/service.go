// Package users: service.go содержит бизнес-логику управления пользователями.
// Сервис координирует регистрацию, выдачу прав модератора и выбор рецензента.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/poll-core/internal/common"
)

// Service управляет пользователями.
type Service struct {
	repo *Repository // Репозиторий для работы с таблицей users
}

// NewService создаёт новый сервис пользователей.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Register создаёт пользователя (или обновляет аватар, если username уже занят).
func (s *Service) Register(ctx context.Context, username, avatar string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("username не может быть пустым")
	}

	id, err := s.repo.Create(ctx, &User{Username: username, Avatar: avatar})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id":  id,
		"username": username,
	}).Info("Пользователь зарегистрирован")
	return id, nil
}

// GetByID возвращает пользователя. Отсутствие: (nil, nil), чтобы вызывающий
// мог ответить «не найдено» без разбора ошибок.
func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// PromoteToModerator выдаёт права модератора.
func (s *Service) PromoteToModerator(ctx context.Context, userID int64) error {
	if err := s.repo.SetModerator(ctx, userID, true); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Пользователь назначен модератором")
	return nil
}

// PickModerator выбирает рецензента, исключая указанных пользователей.
func (s *Service) PickModerator(ctx context.Context, excludeIDs []int64) (int64, bool, error) {
	return s.repo.PickModerator(ctx, excludeIDs)
}

// Leaderboard возвращает топ пользователей по очкам.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]RankedUser, error) {
	return s.repo.Leaderboard(ctx, limit)
}
