package membership

import (
	"context"
	"fmt"
	"log/slog"

	"imhub/internal/im"
)

// Service writes memberships to the store and mirrors them into the
// routing table for users that are currently connected.
type Service struct {
	store    Store
	registry *im.Registry
	logger   *slog.Logger
}

func NewService(store Store, registry *im.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, logger: logger}
}

// Join persists the membership. It returns whether the user was online
// and now receives the group's traffic.
func (s *Service) Join(ctx context.Context, userID, groupID int64) (bool, error) {
	if err := s.store.Join(ctx, userID, groupID); err != nil {
		return false, err
	}
	online := s.registry.AddMembership(userID, groupID)
	s.logger.Info("group_joined",
		"user_id", userID,
		"group_id", groupID,
		"online", online,
	)
	return online, nil
}

func (s *Service) Leave(ctx context.Context, userID, groupID int64) (bool, error) {
	if err := s.store.Leave(ctx, userID, groupID); err != nil {
		return false, err
	}
	online := s.registry.RemoveMembership(userID, groupID)
	s.logger.Info("group_left",
		"user_id", userID,
		"group_id", groupID,
		"online", online,
	)
	return online, nil
}

func (s *Service) Groups(ctx context.Context, userID int64) ([]int64, error) {
	return s.store.Groups(ctx, userID)
}

// Restore loads the stored groups of a freshly connected user into the
// routing table. It has the shape of an im.SessionOptions OnOpen hook.
func (s *Service) Restore(ctx context.Context, userID int64) error {
	groups, err := s.store.Groups(ctx, userID)
	if err != nil {
		return fmt.Errorf("restore memberships: %w", err)
	}
	restored := 0
	for _, g := range groups {
		if s.registry.AddMembership(userID, g) {
			restored++
		}
	}
	s.logger.Debug("memberships_restored",
		"user_id", userID,
		"groups", restored,
	)
	return nil
}
