package telegram

import (
	"context"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers plain-text messages to a user's private chat.
type Notifier struct {
	bot BotAPI
}

// NewNotifier returns a Notifier backed by bot.
func NewNotifier(bot BotAPI) *Notifier {
	return &Notifier{bot: bot}
}

// Notify sends text and reports how delivery went.
func (notifier *Notifier) Notify(ctx context.Context, userID ledger.UserID, text string) ledger.NotificationResult {
	_, err := call(ctx, func() (tgbotapi.Message, error) {
		return notifier.bot.Send(tgbotapi.NewMessage(userID.Int64(), text))
	})
	return ledger.NotificationResult{Outcome: classifyError(err), Err: err}
}
