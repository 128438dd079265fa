package authcache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/infra/metrics"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

const (
	defaultTTL      = 60 * time.Second
	defaultCapacity = 500
)

type GroupFetcher interface {
	FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error)
}

// Service answers "is X an admin of group G" from a bounded, TTL-evicted
// cache over the authoritative group metadata. It is a derived view: entries
// are disposable and never persisted.
type Service struct {
	fetcher GroupFetcher
	selfID  identity.UserID
	cache   *expirable.LRU[string, model.AdminStatus]
	logger  *zap.Logger
}

func NewService(fetcher GroupFetcher, selfID string, capacity int, ttl time.Duration, logger *zap.Logger) *Service {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		fetcher: fetcher,
		selfID:  identity.NormalizeUser(selfID),
		cache:   expirable.NewLRU[string, model.AdminStatus](capacity, nil, ttl),
		logger:  logger,
	}
}

// Resolve never returns an error: a failed metadata fetch degrades to a full
// denial so callers refuse privileged actions instead of crashing.
func (s *Service) Resolve(ctx context.Context, chat identity.GroupID, user identity.UserID) model.AdminStatus {
	key := cacheKey(chat, user)

	if status, ok := s.cache.Get(key); ok {
		metrics.AuthCacheLookups.WithLabelValues("hit").Inc()
		return status
	}
	metrics.AuthCacheLookups.WithLabelValues("miss").Inc()

	if s.fetcher == nil {
		return model.AdminStatus{}
	}

	state, err := s.fetcher.FetchGroupState(ctx, chat)
	if err != nil {
		metrics.AuthCacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("group metadata fetch failed, denying",
			zap.String("chat_id", string(chat)),
			zap.Error(err),
		)
		// Not cached: the next call should retry the fetch.
		return model.AdminStatus{}
	}

	status := s.classify(state, user)
	s.cache.Add(key, status)
	return status
}

func (s *Service) Invalidate(chat identity.GroupID) {
	prefix := string(chat) + "|"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

func (s *Service) classify(state model.GroupState, user identity.UserID) model.AdminStatus {
	var status model.AdminStatus
	botFound := false

	for _, p := range state.Participants {
		id := identity.NormalizeUser(p.ID)
		if id == user {
			status.IsSenderAdmin = p.Role == model.RoleAdmin || p.Role == model.RoleSuperAdmin
			status.IsSuperAdmin = p.Role == model.RoleSuperAdmin
		}
		if id == s.selfID && s.selfID != "" {
			botFound = true
			status.IsBotAdmin = p.Role == model.RoleAdmin || p.Role == model.RoleSuperAdmin
		}
	}

	// The fetch succeeded but the bot's own identity could not be located in
	// the participant list (device-suffixed ids make this common). Treat the
	// bot as admin rather than block all automation.
	if !botFound {
		status.IsBotAdmin = true
	}

	return status
}

func cacheKey(chat identity.GroupID, user identity.UserID) string {
	return string(chat) + "|" + string(user)
}
