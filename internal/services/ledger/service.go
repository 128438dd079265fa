package ledger

import (
	"context"
	"fmt"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

// CounterStore is the keyed counter backend. The file implementation is the
// default; the redis one makes counts durable. No caller may assume counts
// survive a restart.
type CounterStore interface {
	Increment(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) (int, error)
	Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error
	ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error
	RemoveGroup(ctx context.Context, chat identity.GroupID) error
}

type Service struct {
	store CounterStore
}

func NewService(store CounterStore) *Service {
	return &Service{store: store}
}

// Increment returns the post-increment count so callers can compare against a
// threshold without a second read.
func (s *Service) Increment(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) (int, error) {
	if err := s.check(chat, user); err != nil {
		return 0, err
	}
	return s.store.Increment(ctx, chat, user, feature)
}

func (s *Service) Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error {
	if err := s.check(chat, user); err != nil {
		return err
	}
	return s.store.Reset(ctx, chat, user, feature)
}

func (s *Service) ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error {
	if chat == "" {
		return fmt.Errorf("chat id is required")
	}
	if s.store == nil {
		return fmt.Errorf("counter store is nil")
	}
	return s.store.ResetAll(ctx, chat, feature)
}

func (s *Service) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	if chat == "" {
		return fmt.Errorf("chat id is required")
	}
	if s.store == nil {
		return fmt.Errorf("counter store is nil")
	}
	return s.store.RemoveGroup(ctx, chat)
}

func (s *Service) check(chat identity.GroupID, user identity.UserID) error {
	if chat == "" || user == "" {
		return fmt.Errorf("chat and user ids are required")
	}
	if s.store == nil {
		return fmt.Errorf("counter store is nil")
	}
	return nil
}
