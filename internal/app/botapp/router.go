package botapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/infra/telegram"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
	"github.com/akovalev/groupwarden/internal/services/membership"
	"github.com/akovalev/groupwarden/internal/services/policy"
)

type MembershipOps interface {
	AddMember(ctx context.Context, chat identity.GroupID, actor, target identity.UserID) (membership.AddOutcome, error)
	BulkApprove(ctx context.Context, chat identity.GroupID, actor identity.UserID, targets []identity.UserID) (model.BatchResult, error)
	BulkRemove(ctx context.Context, chat identity.GroupID, actor identity.UserID, targets []identity.UserID) (model.BatchResult, error)
}

type PolicyOps interface {
	Get(chat identity.GroupID, feature enums.Feature) model.PolicyConfig
	Update(ctx context.Context, chat identity.GroupID, feature enums.Feature, patch model.PolicyPatch) (model.PolicyConfig, error)
}

type LedgerOps interface {
	Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error
	ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error
}

type Dispatcher interface {
	Handle(ctx context.Context, v model.Violation) model.DispatchResult
	HandleDemotion(ctx context.Context, ev model.DemotionEvent) model.DispatchResult
}

type Authorizer interface {
	Resolve(ctx context.Context, chat identity.GroupID, user identity.UserID) model.AdminStatus
}

type GroupFetcher interface {
	FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error)
}

type Replier interface {
	SendToGroup(ctx context.Context, chat identity.GroupID, text string) error
}

// Router turns inbound chat events into service calls and short replies. One
// grammar serves every guarded feature; features differ only by name.
type Router struct {
	members  MembershipOps
	policies PolicyOps
	counters LedgerOps
	dispatch Dispatcher
	auth     Authorizer
	fetcher  GroupFetcher
	replier  Replier
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[identity.GroupID]map[identity.UserID]struct{}
}

func NewRouter(
	members MembershipOps,
	policies PolicyOps,
	counters LedgerOps,
	dispatch Dispatcher,
	auth Authorizer,
	fetcher GroupFetcher,
	replier Replier,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		members:  members,
		policies: policies,
		counters: counters,
		dispatch: dispatch,
		auth:     auth,
		fetcher:  fetcher,
		replier:  replier,
		logger:   logger,
		pending:  make(map[identity.GroupID]map[identity.UserID]struct{}),
	}
}

func (r *Router) OnViolation(ctx context.Context, v model.Violation) {
	res := r.dispatch.Handle(ctx, v)
	r.logger.Debug("violation dispatched",
		zap.String("chat_id", string(v.ChatID)),
		zap.String("feature", string(v.Feature)),
		zap.String("status", string(res.Status)),
	)
}

func (r *Router) OnDemotion(ctx context.Context, ev model.DemotionEvent) {
	res := r.dispatch.HandleDemotion(ctx, ev)
	r.logger.Debug("demotion dispatched",
		zap.String("chat_id", string(ev.ChatID)),
		zap.String("status", string(res.Status)),
	)
}

// OnJoinRequest remembers who is waiting at the door so /approveall can act
// on them later.
func (r *Router) OnJoinRequest(ctx context.Context, chat identity.GroupID, user identity.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[chat] == nil {
		r.pending[chat] = make(map[identity.UserID]struct{})
	}
	r.pending[chat][user] = struct{}{}
}

func (r *Router) OnCommand(ctx context.Context, cmd telegram.CommandUpdate) {
	if !cmd.IsGroup {
		r.reply(ctx, cmd.ChatID, "This command only works inside a group.")
		return
	}

	switch cmd.Command {
	case "add":
		r.handleAdd(ctx, cmd)
	case "approveall":
		r.handleApproveAll(ctx, cmd)
	case "kickall":
		r.handleKickAll(ctx, cmd)
	case "resetwarns":
		r.handleResetWarns(ctx, cmd)
	default:
		if feature, ok := enums.ParseFeature(cmd.Command); ok {
			r.handleFeature(ctx, cmd, feature)
		}
	}
}

func (r *Router) handleAdd(ctx context.Context, cmd telegram.CommandUpdate) {
	raw := strings.Fields(cmd.Args)
	if len(raw) != 1 {
		r.reply(ctx, cmd.ChatID, "Usage: /add <user>")
		return
	}

	target := identity.NormalizeUser(raw[0])
	outcome, err := r.members.AddMember(ctx, cmd.ChatID, cmd.UserID, target)
	if err != nil {
		r.reply(ctx, cmd.ChatID, mutationErrorText(err))
		return
	}

	switch outcome.Code {
	case membership.AddSuccess:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("Added %s.", target))
	case membership.AddAlreadyMember:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("%s is already in the group.", target))
	case membership.AddBlocked:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("%s has blocked the bot.", target))
	case membership.AddInvalidRequest:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("Could not add %s: invalid account.", target))
	case membership.AddPardoned:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("%s left recently; an invite was sent instead.", target))
	case membership.AddInvited:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("%s restricts adding; an invite was sent privately.", target))
	}
}

func (r *Router) handleApproveAll(ctx context.Context, cmd telegram.CommandUpdate) {
	var targets []identity.UserID
	args := strings.Fields(cmd.Args)
	if len(args) == 0 || (len(args) == 1 && args[0] == "all") {
		targets = r.takePending(cmd.ChatID)
		if len(targets) == 0 {
			r.reply(ctx, cmd.ChatID, "No pending join requests.")
			return
		}
	} else {
		for _, raw := range args {
			targets = append(targets, identity.NormalizeUser(raw))
		}
	}

	res, err := r.members.BulkApprove(ctx, cmd.ChatID, cmd.UserID, targets)
	if err != nil {
		r.restorePending(cmd.ChatID, targets)
		r.reply(ctx, cmd.ChatID, mutationErrorText(err))
		return
	}
	r.reply(ctx, cmd.ChatID, batchSummary("Approved", res))
}

func (r *Router) handleKickAll(ctx context.Context, cmd telegram.CommandUpdate) {
	state, err := r.fetcher.FetchGroupState(ctx, cmd.ChatID)
	if err != nil {
		r.logger.Warn("group fetch for bulk removal failed",
			zap.String("chat_id", string(cmd.ChatID)),
			zap.Error(err),
		)
		r.reply(ctx, cmd.ChatID, "Could not read the member list, try again.")
		return
	}

	targets := make([]identity.UserID, 0, len(state.Participants))
	for _, p := range state.Participants {
		targets = append(targets, identity.NormalizeUser(p.ID))
	}

	res, err := r.members.BulkRemove(ctx, cmd.ChatID, cmd.UserID, targets)
	if err != nil {
		r.reply(ctx, cmd.ChatID, mutationErrorText(err))
		return
	}
	r.reply(ctx, cmd.ChatID, batchSummary("Removed", res))
}

func (r *Router) handleResetWarns(ctx context.Context, cmd telegram.CommandUpdate) {
	if !r.requireAdmin(ctx, cmd) {
		return
	}

	args := strings.Fields(cmd.Args)
	if len(args) == 0 || len(args) > 2 {
		r.reply(ctx, cmd.ChatID, "Usage: /resetwarns <feature> [user]")
		return
	}

	feature, ok := enums.ParseFeature(args[0])
	if !ok {
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("Unknown feature %q.", args[0]))
		return
	}

	var err error
	if len(args) == 2 {
		user := identity.NormalizeUser(args[1])
		err = r.counters.Reset(ctx, cmd.ChatID, user, feature)
	} else {
		err = r.counters.ResetAll(ctx, cmd.ChatID, feature)
	}
	if err != nil {
		r.logger.Error("warning reset failed",
			zap.String("chat_id", string(cmd.ChatID)),
			zap.String("feature", string(feature)),
			zap.Error(err),
		)
		r.reply(ctx, cmd.ChatID, "Reset failed, try again.")
		return
	}
	r.reply(ctx, cmd.ChatID, fmt.Sprintf("Warnings for %s reset.", feature))
}

func (r *Router) handleFeature(ctx context.Context, cmd telegram.CommandUpdate, feature enums.Feature) {
	verb, rest, _ := strings.Cut(cmd.Args, " ")
	rest = strings.TrimSpace(rest)

	if verb == "" || verb == "status" {
		r.reply(ctx, cmd.ChatID, renderPolicy(feature, r.policies.Get(cmd.ChatID, feature)))
		return
	}

	if !r.requireAdmin(ctx, cmd) {
		return
	}

	var patch model.PolicyPatch
	switch verb {
	case "on":
		on := true
		patch.Enabled = &on
	case "off":
		off := false
		patch.Enabled = &off
	case "action":
		action, ok := enums.ParseAction(rest)
		if !ok {
			r.reply(ctx, cmd.ChatID, fmt.Sprintf("Unknown action %q.", rest))
			return
		}
		patch.Action = &action
	case "warns":
		n, err := strconv.Atoi(rest)
		if err != nil {
			r.reply(ctx, cmd.ChatID, fmt.Sprintf("Usage: /%s warns <count>", feature))
			return
		}
		patch.Threshold = &n
	case "msg":
		if rest == "" {
			r.reply(ctx, cmd.ChatID, fmt.Sprintf("Usage: /%s msg <text>", feature))
			return
		}
		patch.CustomMessage = &rest
	default:
		r.reply(ctx, cmd.ChatID, fmt.Sprintf("Usage: /%s on|off|action <a>|warns <n>|msg <text>|status", feature))
		return
	}

	cfg, err := r.policies.Update(ctx, cmd.ChatID, feature, patch)
	if err != nil {
		if errors.Is(err, policy.ErrValidation) {
			r.reply(ctx, cmd.ChatID, fmt.Sprintf("Rejected: %v", err))
			return
		}
		r.logger.Error("policy update failed",
			zap.String("chat_id", string(cmd.ChatID)),
			zap.String("feature", string(feature)),
			zap.Error(err),
		)
		r.reply(ctx, cmd.ChatID, "Update failed, try again.")
		return
	}
	r.reply(ctx, cmd.ChatID, renderPolicy(feature, cfg))
}

func (r *Router) requireAdmin(ctx context.Context, cmd telegram.CommandUpdate) bool {
	status := r.auth.Resolve(ctx, cmd.ChatID, cmd.UserID)
	if !status.IsSenderAdmin {
		r.reply(ctx, cmd.ChatID, "Only group admins can do that.")
		return false
	}
	return true
}

func (r *Router) takePending(chat identity.GroupID) []identity.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.pending[chat]
	if len(set) == 0 {
		return nil
	}
	delete(r.pending, chat)
	targets := make([]identity.UserID, 0, len(set))
	for user := range set {
		targets = append(targets, user)
	}
	return targets
}

func (r *Router) restorePending(chat identity.GroupID, targets []identity.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[chat] == nil {
		r.pending[chat] = make(map[identity.UserID]struct{}, len(targets))
	}
	for _, user := range targets {
		r.pending[chat][user] = struct{}{}
	}
}

func (r *Router) reply(ctx context.Context, chat identity.GroupID, text string) {
	if err := r.replier.SendToGroup(ctx, chat, text); err != nil {
		r.logger.Warn("reply failed",
			zap.String("chat_id", string(chat)),
			zap.Error(err),
		)
	}
}

func mutationErrorText(err error) string {
	switch {
	case errors.Is(err, membership.ErrNotAuthorized):
		return "Only group admins can do that."
	case errors.Is(err, membership.ErrBotNotAdmin):
		return "I need admin rights in this group first."
	case errors.Is(err, membership.ErrInviteDeliveryFailed):
		return "Could not add the user or deliver an invite."
	default:
		return "That did not work, try again."
	}
}

func batchSummary(verb string, res model.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d member(s)", verb, res.Succeeded)
	if res.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", res.Failed)
		if len(res.FailedIDs) > 0 {
			shown := res.FailedIDs
			fmt.Fprintf(&b, " (%s", strings.Join(shown, ", "))
			if res.Failed > len(shown) {
				fmt.Fprintf(&b, " and %d more", res.Failed-len(shown))
			}
			b.WriteString(")")
		}
	}
	b.WriteString(".")
	return b.String()
}

func renderPolicy(feature enums.Feature, cfg model.PolicyConfig) string {
	state := "off"
	if cfg.Enabled {
		state = "on"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s, action %s", feature, state, cfg.Action)
	if cfg.Action == enums.ActionWarn {
		fmt.Fprintf(&b, " (%d warns then %s)", cfg.Threshold, cfg.EscalateTo)
	}
	if cfg.CustomMessage != "" {
		fmt.Fprintf(&b, ", message: %q", cfg.CustomMessage)
	}
	return b.String()
}
