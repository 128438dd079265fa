package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
	"github.com/akovalev/groupwarden/internal/services/membership"
)

// CommandUpdate is a slash command addressed to the bot inside a group or a
// private chat.
type CommandUpdate struct {
	ChatID  identity.GroupID
	UserID  identity.UserID
	IsGroup bool
	Command string
	Args    string
}

type Handlers struct {
	OnCommand     func(context.Context, CommandUpdate)
	OnViolation   func(context.Context, model.Violation)
	OnDemotion    func(context.Context, model.DemotionEvent)
	OnJoinRequest func(ctx context.Context, chat identity.GroupID, user identity.UserID)
}

// Gateway adapts the Telegram Bot API to the service-level primitives:
// group metadata lookups, membership mutations, invite references,
// message delivery, content deletion and role changes. All ids cross this
// boundary in canonical identity form.
type Gateway struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
	selfID int64
}

func NewGateway(token string, logger *zap.Logger) (*Gateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Gateway{
		api:    api,
		logger: logger,
		selfID: api.Self.ID,
	}, nil
}

// SelfID returns the bot's own canonical user id.
func (g *Gateway) SelfID() identity.UserID {
	return userID(g.selfID)
}

func (g *Gateway) Listen(ctx context.Context, handlers Handlers) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	// chat_member updates are not delivered unless asked for explicitly.
	updateCfg.AllowedUpdates = []string{"message", "chat_member", "chat_join_request"}

	updates := g.api.GetUpdatesChan(updateCfg)
	defer g.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.route(ctx, update, handlers)
		}
	}
}

func (g *Gateway) route(ctx context.Context, update tgbotapi.Update, handlers Handlers) {
	if update.ChatMember != nil && handlers.OnDemotion != nil {
		if ev, ok := demotionFrom(update.ChatMember); ok {
			handlers.OnDemotion(ctx, ev)
		}
		return
	}

	if update.ChatJoinRequest != nil && handlers.OnJoinRequest != nil {
		req := update.ChatJoinRequest
		handlers.OnJoinRequest(ctx, chatIdentity(req.Chat.ID), userID(req.From.ID))
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if msg.IsCommand() && handlers.OnCommand != nil {
		handlers.OnCommand(ctx, CommandUpdate{
			ChatID:  chatIdentity(msg.Chat.ID),
			UserID:  userID(msg.From.ID),
			IsGroup: msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
			Command: msg.Command(),
			Args:    strings.TrimSpace(msg.CommandArguments()),
		})
		return
	}

	if handlers.OnViolation == nil || !(msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		return
	}
	if feature, ok := classifyMessage(msg); ok {
		handlers.OnViolation(ctx, model.Violation{
			ChatID:     chatIdentity(msg.Chat.ID),
			UserID:     userID(msg.From.ID),
			Feature:    feature,
			MessageRef: strconv.Itoa(msg.MessageID),
		})
	}
}

func classifyMessage(msg *tgbotapi.Message) (enums.Feature, bool) {
	switch {
	case len(msg.Photo) > 0:
		return enums.FeatureImage, true
	case msg.Sticker != nil:
		return enums.FeatureSticker, true
	case msg.VoiceChatStarted != nil:
		return enums.FeatureCall, true
	case mentionsEveryone(msg):
		return enums.FeatureStatusMention, true
	}
	return "", false
}

// mentionsEveryone flags messages that tag a large slice of the group at
// once, the mass-mention equivalent of a status ping.
func mentionsEveryone(msg *tgbotapi.Message) bool {
	mentions := 0
	for _, e := range msg.Entities {
		if e.Type == "mention" || e.Type == "text_mention" {
			mentions++
		}
	}
	return mentions >= 5
}

func demotionFrom(upd *tgbotapi.ChatMemberUpdated) (model.DemotionEvent, bool) {
	wasAdmin := upd.OldChatMember.Status == "administrator" || upd.OldChatMember.Status == "creator"
	isAdmin := upd.NewChatMember.Status == "administrator" || upd.NewChatMember.Status == "creator"
	if !wasAdmin || isAdmin {
		return model.DemotionEvent{}, false
	}
	if upd.NewChatMember.User == nil {
		return model.DemotionEvent{}, false
	}
	return model.DemotionEvent{
		ChatID: chatIdentity(upd.Chat.ID),
		Actor:  userID(upd.From.ID),
		Target: userID(upd.NewChatMember.User.ID),
	}, true
}

func (g *Gateway) FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error) {
	id, err := chatNumeric(chat)
	if err != nil {
		return model.GroupState{}, err
	}

	info, err := g.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return model.GroupState{}, fmt.Errorf("get chat %s: %w", chat, err)
	}

	admins, err := g.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return model.GroupState{}, fmt.Errorf("get chat administrators %s: %w", chat, err)
	}

	state := model.GroupState{Subject: info.Title}
	botListed := false
	for _, a := range admins {
		if a.User == nil {
			continue
		}
		role := model.RoleAdmin
		if a.Status == "creator" {
			role = model.RoleSuperAdmin
		}
		if a.User.ID == g.selfID {
			botListed = true
		}
		state.Participants = append(state.Participants, model.Participant{
			ID:   string(userID(a.User.ID)),
			Role: role,
		})
	}

	// The admin list omits the bot when it holds no rights; report it as a
	// plain member so callers see its actual standing.
	if !botListed {
		state.Participants = append(state.Participants, model.Participant{
			ID:   string(g.SelfID()),
			Role: model.RoleMember,
		})
	}

	return state, nil
}

func (g *Gateway) MutateMembership(ctx context.Context, chat identity.GroupID, targets []identity.UserID, op membership.Op) ([]membership.MutationResult, error) {
	id, err := chatNumeric(chat)
	if err != nil {
		return nil, err
	}

	results := make([]membership.MutationResult, 0, len(targets))
	for _, target := range targets {
		uid, err := userNumeric(target)
		if err != nil {
			results = append(results, membership.MutationResult{Target: string(target), StatusCode: membership.StatusInvalid})
			continue
		}
		results = append(results, membership.MutationResult{
			Target:     string(target),
			StatusCode: statusFromError(g.mutate(id, uid, op)),
		})
	}
	return results, nil
}

func (g *Gateway) mutate(chatID, userID int64, op membership.Op) error {
	member := tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID}

	switch op {
	case membership.OpAdd:
		// A bot cannot pull accounts into a group; lifting a ban is the
		// closest primitive, everything else goes through invites.
		_, err := g.api.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: member,
			OnlyIfBanned:     true,
		})
		return err
	case membership.OpApprove:
		_, err := g.api.Request(tgbotapi.ApproveChatJoinRequestConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
			UserID:     userID,
		})
		return err
	case membership.OpRemove:
		// Ban then unban so the account can be re-added later.
		if _, err := g.api.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
			return err
		}
		_, err := g.api.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: member,
			OnlyIfBanned:     true,
		})
		return err
	default:
		return fmt.Errorf("unsupported membership op %q", op)
	}
}

func (g *Gateway) RemoveMember(ctx context.Context, chat identity.GroupID, target identity.UserID) error {
	results, err := g.MutateMembership(ctx, chat, []identity.UserID{target}, membership.OpRemove)
	if err != nil {
		return err
	}
	if len(results) != 1 || results[0].StatusCode != membership.StatusOK {
		return fmt.Errorf("remove %s from %s failed", target, chat)
	}
	return nil
}

// BlockUser bans permanently, without the rejoin unban a removal gets.
func (g *Gateway) BlockUser(ctx context.Context, chat identity.GroupID, target identity.UserID) error {
	id, err := chatNumeric(chat)
	if err != nil {
		return err
	}
	uid, err := userNumeric(target)
	if err != nil {
		return err
	}
	_, err = g.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: id, UserID: uid},
	})
	return err
}

func (g *Gateway) Promote(ctx context.Context, chat identity.GroupID, target identity.UserID) error {
	id, err := chatNumeric(chat)
	if err != nil {
		return err
	}
	uid, err := userNumeric(target)
	if err != nil {
		return err
	}
	_, err = g.api.Request(tgbotapi.PromoteChatMemberConfig{
		ChatMemberConfig:   tgbotapi.ChatMemberConfig{ChatID: id, UserID: uid},
		CanDeleteMessages:  true,
		CanInviteUsers:     true,
		CanRestrictMembers: true,
		CanPinMessages:     true,
	})
	return err
}

func (g *Gateway) CreateInviteReference(ctx context.Context, chat identity.GroupID) (string, error) {
	id, err := chatNumeric(chat)
	if err != nil {
		return "", err
	}
	link, err := g.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return "", fmt.Errorf("export invite link for %s: %w", chat, err)
	}
	return link, nil
}

func (g *Gateway) SendToGroup(ctx context.Context, chat identity.GroupID, text string) error {
	id, err := chatNumeric(chat)
	if err != nil {
		return err
	}
	if _, err := g.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("send group message: %w", err)
	}
	return nil
}

func (g *Gateway) SendDirect(ctx context.Context, user identity.UserID, text string) error {
	id, err := userNumeric(user)
	if err != nil {
		return err
	}
	if _, err := g.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("send direct message: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteContent(ctx context.Context, chat identity.GroupID, messageRef string) error {
	id, err := chatNumeric(chat)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageRef)
	if err != nil {
		return fmt.Errorf("invalid message ref %q: %w", messageRef, err)
	}
	if _, err := g.api.Request(tgbotapi.NewDeleteMessage(id, msgID)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageRef, err)
	}
	return nil
}

// statusFromError folds the platform's error strings into the per-target
// result codes the mutation services act on.
func statusFromError(err error) int {
	if err == nil {
		return membership.StatusOK
	}

	text := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(text, "USER_ALREADY_PARTICIPANT"), strings.Contains(text, "HIDE_REQUESTER_MISSING"):
		return membership.StatusAlreadyMember
	case strings.Contains(text, "USER_PRIVACY_RESTRICTED"), strings.Contains(text, "PRIVACY"):
		return membership.StatusPrivacy
	case strings.Contains(text, "USER_IS_BLOCKED"), strings.Contains(text, "BOT WAS BLOCKED"), strings.Contains(text, "FORBIDDEN"):
		return membership.StatusBlocked
	case strings.Contains(text, "USER_RECENTLY"), strings.Contains(text, "TOO MANY REQUESTS"):
		return membership.StatusRecentlyLeft
	default:
		return membership.StatusInvalid
	}
}

func userID(id int64) identity.UserID {
	return identity.NormalizeUser(strconv.FormatInt(id, 10))
}

func chatIdentity(id int64) identity.GroupID {
	return identity.NormalizeGroup(strconv.FormatInt(id, 10))
}

func chatNumeric(chat identity.GroupID) (int64, error) {
	return numericID(string(chat))
}

func userNumeric(user identity.UserID) (int64, error) {
	return numericID(string(user))
}

func numericID(raw string) (int64, error) {
	local, _, _ := strings.Cut(raw, "@")
	id, err := strconv.ParseInt(local, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric platform id %q", raw)
	}
	return id, nil
}
