package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/infra/metrics"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

var (
	ErrNotAuthorized        = errors.New("not authorized")
	ErrBotNotAdmin          = errors.New("bot is not an admin")
	ErrInviteDeliveryFailed = errors.New("invite delivery failed")
)

type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpApprove Op = "approve"
)

// Platform result codes as returned per target by the membership API.
const (
	StatusOK            = 200
	StatusInvalid       = 400
	StatusBlocked       = 401
	StatusPrivacy       = 403
	StatusRecentlyLeft  = 408
	StatusAlreadyMember = 409
)

type MutationResult struct {
	Target     string
	StatusCode int
}

type Authorizer interface {
	Resolve(ctx context.Context, chat identity.GroupID, user identity.UserID) model.AdminStatus
	Invalidate(chat identity.GroupID)
}

type GroupFetcher interface {
	FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error)
}

type Mutator interface {
	MutateMembership(ctx context.Context, chat identity.GroupID, targets []identity.UserID, op Op) ([]MutationResult, error)
}

type Inviter interface {
	CreateInviteReference(ctx context.Context, chat identity.GroupID) (string, error)
}

type Messenger interface {
	SendToGroup(ctx context.Context, chat identity.GroupID, text string) error
	SendDirect(ctx context.Context, user identity.UserID, text string) error
}

type AddCode string

const (
	AddSuccess        AddCode = "success"
	AddAlreadyMember  AddCode = "already_member"
	AddBlocked        AddCode = "blocked"
	AddInvalidRequest AddCode = "invalid_request"
	AddPardoned       AddCode = "pardoned"
	AddInvited        AddCode = "invited"
)

type AddOutcome struct {
	Code AddCode
}

type Config struct {
	ChunkSize    int
	ChunkPacing  time.Duration
	RemovePacing time.Duration
}

const (
	defaultChunkSize = 50

	pardonNotice = "Direct add is not possible right now; a private invite was sent instead."
)

// Service performs membership mutations against the external API with
// authorization pre-checks, chunking, pacing and a single individual-retry
// fallback pass for wholesale chunk failures.
type Service struct {
	auth      Authorizer
	fetcher   GroupFetcher
	mutator   Mutator
	inviter   Inviter
	messenger Messenger
	selfID    identity.UserID
	cfg       Config
	logger    *zap.Logger

	chunkPacer  *rate.Limiter
	removePacer *rate.Limiter
}

func NewService(
	auth Authorizer,
	fetcher GroupFetcher,
	mutator Mutator,
	inviter Inviter,
	messenger Messenger,
	selfID string,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		auth:      auth,
		fetcher:   fetcher,
		mutator:   mutator,
		inviter:   inviter,
		messenger: messenger,
		selfID:    identity.NormalizeUser(selfID),
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.ChunkPacing > 0 {
		s.chunkPacer = rate.NewLimiter(rate.Every(cfg.ChunkPacing), 1)
	}
	if cfg.RemovePacing > 0 {
		s.removePacer = rate.NewLimiter(rate.Every(cfg.RemovePacing), 1)
	}
	return s
}

// AddMember adds one target, falling back to a private invite when the
// platform refuses a direct add. The pardon path is not a failure.
func (s *Service) AddMember(ctx context.Context, chat identity.GroupID, actor, target identity.UserID) (AddOutcome, error) {
	if err := s.requireAdmin(ctx, chat, actor); err != nil {
		return AddOutcome{}, err
	}

	results, err := s.mutator.MutateMembership(ctx, chat, []identity.UserID{target}, OpAdd)
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(string(OpAdd), "error").Inc()
		return AddOutcome{}, fmt.Errorf("add member mutation: %w", err)
	}
	if len(results) == 0 {
		metrics.MutationsTotal.WithLabelValues(string(OpAdd), "error").Inc()
		return AddOutcome{}, fmt.Errorf("add member mutation: empty result")
	}

	outcome, err := s.classifyAdd(ctx, chat, target, results[0].StatusCode)
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(string(OpAdd), "error").Inc()
		return AddOutcome{}, err
	}
	metrics.MutationsTotal.WithLabelValues(string(OpAdd), string(outcome.Code)).Inc()
	return outcome, nil
}

func (s *Service) classifyAdd(ctx context.Context, chat identity.GroupID, target identity.UserID, status int) (AddOutcome, error) {
	switch status {
	case StatusOK:
		return AddOutcome{Code: AddSuccess}, nil
	case StatusAlreadyMember:
		return AddOutcome{Code: AddAlreadyMember}, nil
	case StatusBlocked:
		return AddOutcome{Code: AddBlocked}, nil
	case StatusInvalid:
		return AddOutcome{Code: AddInvalidRequest}, nil
	case StatusRecentlyLeft:
		// Pardon flow: the target left recently and cannot be force-added.
		if err := s.deliverInvite(ctx, chat, target); err != nil {
			s.logger.Warn("pardon invite delivery failed",
				zap.String("chat_id", string(chat)),
				zap.String("target", string(target)),
				zap.Error(err),
			)
		}
		return AddOutcome{Code: AddPardoned}, nil
	case StatusPrivacy:
		if err := s.deliverInvite(ctx, chat, target); err != nil {
			return AddOutcome{}, fmt.Errorf("%w: %v", ErrInviteDeliveryFailed, err)
		}
		return AddOutcome{Code: AddInvited}, nil
	default:
		return AddOutcome{}, fmt.Errorf("add member mutation: unexpected status %d", status)
	}
}

func (s *Service) deliverInvite(ctx context.Context, chat identity.GroupID, target identity.UserID) error {
	token, err := s.inviter.CreateInviteReference(ctx, chat)
	if err != nil {
		return fmt.Errorf("create invite reference: %w", err)
	}

	if err := s.messenger.SendToGroup(ctx, chat, pardonNotice); err != nil {
		s.logger.Warn("group pardon notice failed",
			zap.String("chat_id", string(chat)),
			zap.Error(err),
		)
	}

	if err := s.messenger.SendDirect(ctx, target, token); err != nil {
		return fmt.Errorf("send invite to target: %w", err)
	}
	return nil
}

// BulkApprove approves join requests in chunks with inter-chunk pacing. A
// wholesale chunk failure falls back to exactly one per-item retry pass.
func (s *Service) BulkApprove(ctx context.Context, chat identity.GroupID, actor identity.UserID, targets []identity.UserID) (model.BatchResult, error) {
	if err := s.requireAdmin(ctx, chat, actor); err != nil {
		return model.BatchResult{}, err
	}
	return s.runChunked(ctx, chat, dedupe(targets), OpApprove)
}

// BulkRemove kicks every target except the invoking operator, the bot itself
// and current admins, pacing between individual removals.
func (s *Service) BulkRemove(ctx context.Context, chat identity.GroupID, actor identity.UserID, targets []identity.UserID) (model.BatchResult, error) {
	if err := s.requireAdmin(ctx, chat, actor); err != nil {
		return model.BatchResult{}, err
	}

	admins, err := s.adminSet(ctx, chat)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("fetch group roster: %w", err)
	}

	result := model.BatchResult{JobID: uuid.NewString()}
	for _, target := range dedupe(targets) {
		if target == actor || target == s.selfID {
			continue
		}
		if _, isAdmin := admins[target]; isAdmin {
			continue
		}

		if s.removePacer != nil {
			if err := s.removePacer.Wait(ctx); err != nil {
				return result, err
			}
		}

		outcome := s.mutateOne(ctx, chat, target, OpRemove)
		result.Record(outcome)
	}

	// Membership changed; cached role views for this group are stale.
	s.auth.Invalidate(chat)

	s.logger.Info("bulk remove finished",
		zap.String("job_id", result.JobID),
		zap.String("chat_id", string(chat)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// RemoveMember is the single-target enforcement path used by policy
// dispatch. It skips the operator pre-check: the bot itself is the actor.
func (s *Service) RemoveMember(ctx context.Context, chat identity.GroupID, target identity.UserID) error {
	outcome := s.mutateOne(ctx, chat, target, OpRemove)
	s.auth.Invalidate(chat)
	if !outcome.OK {
		return fmt.Errorf("remove member: %s", outcome.Code)
	}
	return nil
}

func (s *Service) runChunked(ctx context.Context, chat identity.GroupID, targets []identity.UserID, op Op) (model.BatchResult, error) {
	result := model.BatchResult{JobID: uuid.NewString()}

	for start := 0; start < len(targets); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(targets) {
			end = len(targets)
		}
		chunk := targets[start:end]

		// The pacer's initial token makes the first chunk immediate; each
		// following chunk waits out the pacing interval. Nothing waits after
		// the last chunk.
		if s.chunkPacer != nil {
			if err := s.chunkPacer.Wait(ctx); err != nil {
				return result, err
			}
		}

		results, err := s.mutator.MutateMembership(ctx, chat, chunk, op)
		if err != nil {
			s.logger.Warn("chunk call failed, retrying items individually",
				zap.String("job_id", result.JobID),
				zap.String("chat_id", string(chat)),
				zap.String("op", string(op)),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			for _, target := range chunk {
				result.Record(s.mutateOne(ctx, chat, target, op))
			}
			continue
		}

		for _, res := range results {
			outcome := model.ItemOutcome{
				Target: res.Target,
				OK:     res.StatusCode == StatusOK,
				Code:   statusString(res.StatusCode),
			}
			result.Record(outcome)
			metrics.MutationsTotal.WithLabelValues(string(op), outcome.Code).Inc()
		}
	}

	s.logger.Info("bulk operation finished",
		zap.String("job_id", result.JobID),
		zap.String("chat_id", string(chat)),
		zap.String("op", string(op)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) mutateOne(ctx context.Context, chat identity.GroupID, target identity.UserID, op Op) model.ItemOutcome {
	results, err := s.mutator.MutateMembership(ctx, chat, []identity.UserID{target}, op)
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(string(op), "error").Inc()
		return model.ItemOutcome{Target: string(target), OK: false, Code: "io_error"}
	}
	if len(results) == 0 {
		metrics.MutationsTotal.WithLabelValues(string(op), "error").Inc()
		return model.ItemOutcome{Target: string(target), OK: false, Code: "empty_result"}
	}

	outcome := model.ItemOutcome{
		Target: results[0].Target,
		OK:     results[0].StatusCode == StatusOK,
		Code:   statusString(results[0].StatusCode),
	}
	metrics.MutationsTotal.WithLabelValues(string(op), outcome.Code).Inc()
	return outcome
}

// requireAdmin checks the bot's role before the actor's: a bot without admin
// rights blocks every remediation regardless of who asked.
func (s *Service) requireAdmin(ctx context.Context, chat identity.GroupID, actor identity.UserID) error {
	status := s.auth.Resolve(ctx, chat, actor)
	if !status.IsBotAdmin {
		return ErrBotNotAdmin
	}
	if !status.IsSenderAdmin {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Service) adminSet(ctx context.Context, chat identity.GroupID) (map[identity.UserID]struct{}, error) {
	state, err := s.fetcher.FetchGroupState(ctx, chat)
	if err != nil {
		return nil, err
	}

	admins := make(map[identity.UserID]struct{})
	for _, p := range state.Participants {
		if p.Role == model.RoleAdmin || p.Role == model.RoleSuperAdmin {
			admins[identity.NormalizeUser(p.ID)] = struct{}{}
		}
	}
	return admins, nil
}

func dedupe(targets []identity.UserID) []identity.UserID {
	seen := make(map[identity.UserID]struct{}, len(targets))
	out := make([]identity.UserID, 0, len(targets))
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func statusString(status int) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid_request"
	case StatusBlocked:
		return "blocked"
	case StatusPrivacy:
		return "privacy"
	case StatusRecentlyLeft:
		return "recently_left"
	case StatusAlreadyMember:
		return "already_member"
	default:
		return fmt.Sprintf("status_%d", status)
	}
}
