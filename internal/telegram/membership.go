package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var memberStatuses = map[string]bool{
	"member":        true,
	"administrator": true,
	"creator":       true,
}

// MembershipOracle answers channel membership with getChatMember.
type MembershipOracle struct {
	bot BotAPI
}

// NewMembershipOracle returns an oracle backed by bot.
func NewMembershipOracle(bot BotAPI) *MembershipOracle {
	return &MembershipOracle{bot: bot}
}

// CheckMembership accepts a numeric chat id (-100...) or a public @username.
func (oracle *MembershipOracle) CheckMembership(ctx context.Context, channelID string, userID ledger.UserID) ledger.MembershipResult {
	config := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: tgbotapi.ChatConfigWithUser{UserID: userID.Int64()}}
	trimmed := strings.TrimSpace(channelID)
	if chatID, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		config.ChatID = chatID
	} else {
		config.SuperGroupUsername = trimmed
	}

	member, err := call(ctx, func() (tgbotapi.ChatMember, error) {
		return oracle.bot.GetChatMember(config)
	})
	if err != nil {
		return ledger.MembershipResult{Status: ledger.MembershipUnknown, Outcome: classifyError(err), Err: err}
	}
	if memberStatuses[member.Status] || (member.Status == "restricted" && member.IsMember) {
		return ledger.MembershipResult{Status: ledger.MembershipMember, Outcome: ledger.OutcomeSuccess}
	}
	return ledger.MembershipResult{Status: ledger.MembershipNotMember, Outcome: ledger.OutcomeSuccess}
}
