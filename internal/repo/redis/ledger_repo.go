package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

// LedgerRepo is the durable violation counter backend: one hash per
// (group, feature), keyed by user. Counts survive process restarts as long as
// the redis instance does.
type LedgerRepo struct {
	client *goredis.Client
}

func NewLedgerRepo(client *goredis.Client) *LedgerRepo {
	return &LedgerRepo{client: client}
}

func (r *LedgerRepo) Increment(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	count, err := r.client.HIncrBy(ctx, counterKey(chat, feature), string(user), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment violation counter: %w", err)
	}
	return int(count), nil
}

func (r *LedgerRepo) Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.client.HDel(ctx, counterKey(chat, feature), string(user)).Err(); err != nil {
		return fmt.Errorf("reset violation counter: %w", err)
	}
	return nil
}

func (r *LedgerRepo) ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.client.Del(ctx, counterKey(chat, feature)).Err(); err != nil {
		return fmt.Errorf("reset group violation counters: %w", err)
	}
	return nil
}

func (r *LedgerRepo) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	keys := make([]string, 0, len(enums.Features()))
	for _, feature := range enums.Features() {
		keys = append(keys, counterKey(chat, feature))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove group violation counters: %w", err)
	}
	return nil
}

func counterKey(chat identity.GroupID, feature enums.Feature) string {
	return "warn:" + string(chat) + ":" + string(feature)
}
