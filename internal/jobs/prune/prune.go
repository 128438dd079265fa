package prune

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

type PolicyStore interface {
	Groups() []identity.GroupID
	RemoveGroup(ctx context.Context, chat identity.GroupID) error
}

type CounterStore interface {
	ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error
	RemoveGroup(ctx context.Context, chat identity.GroupID) error
}

type GroupFetcher interface {
	FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error)
}

// Job drops policies and counters for groups the bot no longer belongs to,
// and optionally ages out warning counters on a fixed interval. One Run is
// one sweep; the caller owns the schedule.
type Job struct {
	policies  PolicyStore
	counters  CounterStore
	fetcher   GroupFetcher
	warnReset time.Duration
	lastReset time.Time
	now       func() time.Time
	logger    *zap.Logger
}

func New(policies PolicyStore, counters CounterStore, fetcher GroupFetcher, warnReset time.Duration, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		policies:  policies,
		counters:  counters,
		fetcher:   fetcher,
		warnReset: warnReset,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	pruned := 0
	for _, chat := range j.policies.Groups() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, err := j.fetcher.FetchGroupState(ctx, chat)
		if err == nil {
			if j.shouldResetWarnings() {
				j.resetWarnings(ctx, chat)
			}
			continue
		}
		if !departed(err) {
			j.logger.Warn("group state fetch failed, keeping group data",
				zap.String("chat_id", string(chat)),
				zap.Error(err),
			)
			continue
		}

		if err := j.policies.RemoveGroup(ctx, chat); err != nil {
			j.logger.Error("prune policies failed",
				zap.String("chat_id", string(chat)),
				zap.Error(err),
			)
			continue
		}
		if err := j.counters.RemoveGroup(ctx, chat); err != nil {
			j.logger.Error("prune counters failed",
				zap.String("chat_id", string(chat)),
				zap.Error(err),
			)
		}
		pruned++
	}

	if j.shouldResetWarnings() {
		j.lastReset = j.now()
	}
	if pruned > 0 {
		j.logger.Info("pruned departed groups", zap.Int("groups", pruned))
	}
	return nil
}

func (j *Job) shouldResetWarnings() bool {
	if j.warnReset <= 0 {
		return false
	}
	return j.lastReset.IsZero() || j.now().Sub(j.lastReset) >= j.warnReset
}

func (j *Job) resetWarnings(ctx context.Context, chat identity.GroupID) {
	for _, feature := range enums.Features() {
		if err := j.counters.ResetAll(ctx, chat, feature); err != nil {
			j.logger.Warn("periodic warning reset failed",
				zap.String("chat_id", string(chat)),
				zap.String("feature", string(feature)),
				zap.Error(err),
			)
		}
	}
}

// departed tells a "we are not in that group anymore" failure apart from a
// transient one. Only the former justifies dropping state.
func departed(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "chat not found") ||
		strings.Contains(text, "bot was kicked") ||
		strings.Contains(text, "bot is not a member") ||
		strings.Contains(text, "forbidden")
}
