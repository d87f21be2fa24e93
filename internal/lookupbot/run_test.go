package lookupbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type recordingBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
}

func (bot *recordingBot) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if message, ok := chattable.(tgbotapi.MessageConfig); ok {
		bot.sent = append(bot.sent, message)
	}
	return tgbotapi.Message{}, nil
}

func (bot *recordingBot) Request(chattable tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (bot *recordingBot) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return tgbotapi.ChatMember{Status: "member"}, nil
}

func (bot *recordingBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return bot.updates
}

func (bot *recordingBot) StopReceivingUpdates() {}

func TestNewAppServesUpdates(test *testing.T) {
	test.Parallel()
	seed := ledger.DefaultRuntimeConfig()
	seed.ChannelChatID = "-1001234567890"
	cfg := Config{
		TelegramToken: "token",
		AdminID:       1,
		StorageURL:    "file://" + test.TempDir(),
		BotUsername:   "lookup_bot",
		Seed:          seed,
	}
	bot := &recordingBot{updates: make(chan tgbotapi.Update, 1)}
	app, err := NewApp(context.Background(), cfg, bot, zap.NewNop())
	if err != nil {
		test.Fatalf("new app: %v", err)
	}
	defer func() { _ = app.Close() }()

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42},
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/start")}},
	}}
	close(bot.updates)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		test.Fatalf("run: %v", err)
	}

	bot.mu.Lock()
	sent := len(bot.sent)
	bot.mu.Unlock()
	if sent != 1 {
		test.Fatalf("expected one reply, got %d", sent)
	}
	userID, _ := ledger.NewUserID(42)
	account, err := app.Service().GetAccount(ctx, userID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if !account.JoinedChannel || account.Trials != seed.TrialDefault {
		test.Fatalf("unexpected account %+v", account)
	}
}

func TestNewAppRejectsInvalidConfig(test *testing.T) {
	test.Parallel()
	if _, err := NewApp(context.Background(), Config{Seed: ledger.DefaultRuntimeConfig()}, &recordingBot{}, nil); err == nil {
		test.Fatalf("expected config error")
	}
}
