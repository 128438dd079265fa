package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/infra/metrics"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

type Authorizer interface {
	Resolve(ctx context.Context, chat identity.GroupID, user identity.UserID) model.AdminStatus
	Invalidate(chat identity.GroupID)
}

type Policies interface {
	Get(chat identity.GroupID, feature enums.Feature) model.PolicyConfig
}

type Counters interface {
	Increment(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) (int, error)
	Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error
}

type Remover interface {
	RemoveMember(ctx context.Context, chat identity.GroupID, target identity.UserID) error
}

type ContentDeleter interface {
	DeleteContent(ctx context.Context, chat identity.GroupID, messageRef string) error
}

type Blocker interface {
	BlockUser(ctx context.Context, chat identity.GroupID, user identity.UserID) error
}

type Promoter interface {
	Promote(ctx context.Context, chat identity.GroupID, target identity.UserID) error
}

type Messenger interface {
	SendToGroup(ctx context.Context, chat identity.GroupID, text string) error
}

// Service decides and executes the configured response to a classified
// violation. It owns no state of its own: policy comes from the store,
// counts from the ledger, side effects go through the injected primitives.
type Service struct {
	auth      Authorizer
	policies  Policies
	counters  Counters
	remover   Remover
	deleter   ContentDeleter
	blocker   Blocker
	promoter  Promoter
	messenger Messenger
	logger    *zap.Logger
}

func NewService(
	auth Authorizer,
	policies Policies,
	counters Counters,
	remover Remover,
	deleter ContentDeleter,
	blocker Blocker,
	promoter Promoter,
	messenger Messenger,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		auth:      auth,
		policies:  policies,
		counters:  counters,
		remover:   remover,
		deleter:   deleter,
		blocker:   blocker,
		promoter:  promoter,
		messenger: messenger,
		logger:    logger,
	}
}

func (s *Service) Handle(ctx context.Context, v model.Violation) model.DispatchResult {
	cfg := s.policies.Get(v.ChatID, v.Feature)
	if !cfg.Enabled {
		return model.DispatchResult{Status: model.DispatchSkipped}
	}
	metrics.ViolationsTotal.WithLabelValues(string(v.Feature)).Inc()

	status := s.auth.Resolve(ctx, v.ChatID, v.UserID)
	if status.IsSenderAdmin {
		// Admins are exempt from every guarded feature.
		return model.DispatchResult{Status: model.DispatchSkipped}
	}
	if !status.IsBotAdmin {
		return model.DispatchResult{Status: model.DispatchInsufficientPrivilege}
	}

	if cfg.Action == enums.ActionWarn {
		return s.handleWarn(ctx, v, cfg)
	}
	return s.enforce(ctx, v, cfg, cfg.Action, false)
}

func (s *Service) handleWarn(ctx context.Context, v model.Violation, cfg model.PolicyConfig) model.DispatchResult {
	count, err := s.counters.Increment(ctx, v.ChatID, v.UserID, v.Feature)
	if err != nil {
		s.logger.Error("violation counter increment failed",
			zap.String("chat_id", string(v.ChatID)),
			zap.String("user_id", string(v.UserID)),
			zap.String("feature", string(v.Feature)),
			zap.Error(err),
		)
		return model.DispatchResult{Status: model.DispatchSkipped}
	}

	if count < cfg.Threshold {
		s.notify(ctx, v.ChatID, fmt.Sprintf("%s Warning %d/%d.", s.warnText(cfg, v.Feature), count, cfg.Threshold))
		return model.DispatchResult{
			Status:    model.DispatchWarned,
			Action:    enums.ActionWarn,
			Count:     count,
			Threshold: cfg.Threshold,
		}
	}

	// Threshold reached: reset and escalate exactly once, in the same step.
	if err := s.counters.Reset(ctx, v.ChatID, v.UserID, v.Feature); err != nil {
		s.logger.Warn("violation counter reset failed",
			zap.String("chat_id", string(v.ChatID)),
			zap.String("user_id", string(v.UserID)),
			zap.Error(err),
		)
	}

	result := s.enforce(ctx, v, cfg, cfg.EscalateTo, true)
	result.Count = count
	result.Threshold = cfg.Threshold
	return result
}

func (s *Service) enforce(ctx context.Context, v model.Violation, cfg model.PolicyConfig, action enums.Action, escalated bool) model.DispatchResult {
	result := model.DispatchResult{
		Status:    model.DispatchEnforced,
		Action:    action,
		Escalated: escalated,
	}

	// Each side effect is attempted independently; one failing never stops
	// the other.
	if v.MessageRef != "" {
		if err := s.deleter.DeleteContent(ctx, v.ChatID, v.MessageRef); err != nil {
			result.DeleteErr = err
			s.logger.Warn("content deletion failed",
				zap.String("chat_id", string(v.ChatID)),
				zap.String("message_ref", v.MessageRef),
				zap.Error(err),
			)
		} else {
			result.Deleted = true
		}
	}

	switch action {
	case enums.ActionKick, enums.ActionRemove:
		if err := s.remover.RemoveMember(ctx, v.ChatID, v.UserID); err != nil {
			result.RemoveErr = err
			s.logger.Warn("member removal failed",
				zap.String("chat_id", string(v.ChatID)),
				zap.String("user_id", string(v.UserID)),
				zap.Error(err),
			)
		} else {
			result.Removed = true
		}
	case enums.ActionBlock:
		if err := s.blocker.BlockUser(ctx, v.ChatID, v.UserID); err != nil {
			result.RemoveErr = err
			s.logger.Warn("user block failed",
				zap.String("user_id", string(v.UserID)),
				zap.Error(err),
			)
		} else {
			result.Removed = true
		}
	}

	metrics.EnforcementsTotal.WithLabelValues(string(v.Feature), string(action)).Inc()
	s.notify(ctx, v.ChatID, s.warnText(cfg, v.Feature))
	return result
}

// HandleDemotion reverses admin demotions performed by another admin. The
// platform demoting someone on its own is never reversed.
func (s *Service) HandleDemotion(ctx context.Context, ev model.DemotionEvent) model.DispatchResult {
	cfg := s.policies.Get(ev.ChatID, enums.FeatureDemote)
	if !cfg.Enabled {
		return model.DispatchResult{Status: model.DispatchSkipped}
	}
	if ev.Actor == "" || ev.Actor == ev.Target {
		return model.DispatchResult{Status: model.DispatchSkipped}
	}
	metrics.ViolationsTotal.WithLabelValues(string(enums.FeatureDemote)).Inc()

	// The demotion just changed role state; resolve against fresh metadata.
	s.auth.Invalidate(ev.ChatID)

	actor := s.auth.Resolve(ctx, ev.ChatID, ev.Actor)
	if !actor.IsBotAdmin {
		return model.DispatchResult{Status: model.DispatchInsufficientPrivilege}
	}
	if !actor.IsSenderAdmin {
		return model.DispatchResult{Status: model.DispatchSkipped}
	}

	target := s.auth.Resolve(ctx, ev.ChatID, ev.Target)
	if target.IsSenderAdmin {
		// Already re-promoted; repeating would duplicate the notification.
		return model.DispatchResult{Status: model.DispatchSkipped}
	}

	if err := s.promoter.Promote(ctx, ev.ChatID, ev.Target); err != nil {
		s.logger.Warn("re-promotion failed",
			zap.String("chat_id", string(ev.ChatID)),
			zap.String("target", string(ev.Target)),
			zap.Error(err),
		)
		return model.DispatchResult{Status: model.DispatchEnforced, Action: enums.ActionPromote, RemoveErr: err}
	}
	s.auth.Invalidate(ev.ChatID)

	metrics.EnforcementsTotal.WithLabelValues(string(enums.FeatureDemote), string(enums.ActionPromote)).Inc()
	s.notify(ctx, ev.ChatID, s.warnText(cfg, enums.FeatureDemote))

	return model.DispatchResult{Status: model.DispatchEnforced, Action: enums.ActionPromote, Removed: true}
}

func (s *Service) notify(ctx context.Context, chat identity.GroupID, text string) {
	if err := s.messenger.SendToGroup(ctx, chat, text); err != nil {
		s.logger.Warn("group notification failed",
			zap.String("chat_id", string(chat)),
			zap.Error(err),
		)
	}
}

func (s *Service) warnText(cfg model.PolicyConfig, feature enums.Feature) string {
	if cfg.CustomMessage != "" {
		return cfg.CustomMessage
	}
	return defaultText(feature)
}

func defaultText(feature enums.Feature) string {
	switch feature {
	case enums.FeatureImage:
		return "Images are not allowed in this group."
	case enums.FeatureSticker:
		return "Stickers are not allowed in this group."
	case enums.FeatureStatusMention:
		return "Status mentions are not allowed in this group."
	case enums.FeatureDemote:
		return "Admin demotions are protected; the admin was restored."
	case enums.FeatureCall:
		return "Calling the group is not allowed."
	default:
		return "This is not allowed in this group."
	}
}
