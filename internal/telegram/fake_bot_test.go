package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookup"
	"github.com/MarkoPoloResearchLab/lookupgate/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	testChannelID     = "-1001234567890"
	testAdministrator = 7777680053
	fixedClockUnix    = 1_759_000_000
)

type fakeBot struct {
	mu            sync.Mutex
	sent          []tgbotapi.MessageConfig
	callbacks     []string
	statuses      map[int64]string
	memberErr     error
	sendErr       error
	memberConfigs []tgbotapi.GetChatMemberConfig
	updates       chan tgbotapi.Update
	stopped       atomic.Bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{statuses: make(map[int64]string), updates: make(chan tgbotapi.Update, 16)}
}

func (bot *fakeBot) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if bot.sendErr != nil {
		return tgbotapi.Message{}, bot.sendErr
	}
	if message, ok := chattable.(tgbotapi.MessageConfig); ok {
		bot.sent = append(bot.sent, message)
	}
	return tgbotapi.Message{}, nil
}

func (bot *fakeBot) Request(chattable tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if callback, ok := chattable.(tgbotapi.CallbackConfig); ok {
		bot.callbacks = append(bot.callbacks, callback.CallbackQueryID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (bot *fakeBot) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	bot.memberConfigs = append(bot.memberConfigs, config)
	if bot.memberErr != nil {
		return tgbotapi.ChatMember{}, bot.memberErr
	}
	status, ok := bot.statuses[config.UserID]
	if !ok {
		status = "left"
	}
	return tgbotapi.ChatMember{Status: status}, nil
}

func (bot *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return bot.updates
}

func (bot *fakeBot) StopReceivingUpdates() {
	bot.stopped.Store(true)
}

func (bot *fakeBot) setStatus(userID int64, status string) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	bot.statuses[userID] = status
}

func (bot *fakeBot) textsTo(chatID int64) []string {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	var texts []string
	for _, message := range bot.sent {
		if message.ChatID == chatID {
			texts = append(texts, message.Text)
		}
	}
	return texts
}

func (bot *fakeBot) lastTextTo(test *testing.T, chatID int64) string {
	test.Helper()
	texts := bot.textsTo(chatID)
	if len(texts) == 0 {
		test.Fatalf("no message sent to %d", chatID)
	}
	return texts[len(texts)-1]
}

type fakeLookup struct {
	mu          sync.Mutex
	payload     string
	err         error
	identifiers []string
}

func (fake *fakeLookup) Fetch(ctx context.Context, identifier string) (lookup.Result, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.identifiers = append(fake.identifiers, identifier)
	if fake.err != nil {
		return lookup.Result{}, fake.err
	}
	return lookup.Result{Identifier: identifier, Payload: []byte(fake.payload)}, nil
}

func (fake *fakeLookup) calls() []string {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return append([]string(nil), fake.identifiers...)
}

type fixture struct {
	bot     *fakeBot
	lookup  *fakeLookup
	store   *filestore.Store
	service *ledger.Service
	handler *Handler
}

func newFixture(test *testing.T, mutate func(config *ledger.RuntimeConfig)) *fixture {
	test.Helper()
	config := ledger.DefaultRuntimeConfig()
	config.ChannelChatID = testChannelID
	config.ChannelLink = "https://t.me/+channel"
	if mutate != nil {
		mutate(&config)
	}
	store, err := filestore.Open(test.TempDir(), config)
	if err != nil {
		test.Fatalf("open store: %v", err)
	}
	bot := newFakeBot()
	administrator, _ := ledger.NewUserID(testAdministrator)
	service, err := ledger.NewService(store, func() int64 { return fixedClockUnix },
		ledger.WithAdministrator(administrator),
		ledger.WithMembershipOracle(NewMembershipOracle(bot)),
		ledger.WithNotifier(NewNotifier(bot)),
	)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	vehicleLookup := &fakeLookup{payload: `{"rc_number":"UP65CM9494"}`}
	handler, err := NewHandler(bot, service, vehicleLookup, nil, HandlerConfig{BotUsername: "@lookup_bot", SupportUsername: "support"})
	if err != nil {
		test.Fatalf("new handler: %v", err)
	}
	return &fixture{bot: bot, lookup: vehicleLookup, store: store, service: service, handler: handler}
}

func (fixture *fixture) account(test *testing.T, raw int64) ledger.Account {
	test.Helper()
	userID, _ := ledger.NewUserID(raw)
	account, found, err := fixture.store.GetAccount(context.Background(), userID)
	if err != nil || !found {
		test.Fatalf("account %d: found=%v err=%v", raw, found, err)
	}
	return account
}

func commandUpdate(userID int64, text string) tgbotapi.Update {
	command := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
	}}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "callback-" + data,
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

var errProviderDown = errors.New("provider down")
