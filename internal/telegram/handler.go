package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookup"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	defaultWorkers       = 8
	defaultUpdateTimeout = 30
)

// ErrInvalidHandlerConfig indicates a missing dependency.
var ErrInvalidHandlerConfig = errors.New("invalid telegram handler config")

// VehicleLookup fetches vehicle data for a registration number.
type VehicleLookup interface {
	Fetch(ctx context.Context, identifier string) (lookup.Result, error)
}

// HandlerConfig carries the presentation settings of the bot.
type HandlerConfig struct {
	BotUsername     string
	SupportUsername string
	Workers         int
}

// Handler routes Telegram updates to the ledger service.
type Handler struct {
	bot     BotAPI
	service *ledger.Service
	lookup  VehicleLookup
	logger  *zap.Logger
	config  HandlerConfig
	nowFn   func() time.Time
}

// incoming is the part of an update the handler acts on.
type incoming struct {
	userID     ledger.UserID
	chatID     int64
	text       string
	command    string
	arguments  string
	callbackID string
	data       string
}

// NewHandler wires a Handler.
func NewHandler(bot BotAPI, service *ledger.Service, vehicleLookup VehicleLookup, logger *zap.Logger, config HandlerConfig) (*Handler, error) {
	if bot == nil {
		return nil, fmt.Errorf("%w: bot is nil", ErrInvalidHandlerConfig)
	}
	if service == nil {
		return nil, fmt.Errorf("%w: service is nil", ErrInvalidHandlerConfig)
	}
	if vehicleLookup == nil {
		return nil, fmt.Errorf("%w: lookup is nil", ErrInvalidHandlerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	config.BotUsername = strings.TrimPrefix(strings.TrimSpace(config.BotUsername), "@")
	config.SupportUsername = strings.TrimPrefix(strings.TrimSpace(config.SupportUsername), "@")
	return &Handler{
		bot:     bot,
		service: service,
		lookup:  vehicleLookup,
		logger:  logger,
		config:  config,
		nowFn:   time.Now,
	}, nil
}

// Run long-polls for updates until ctx ends. Updates are handled by a bounded pool of goroutines,
// and Run waits for in-flight updates before returning.
func (handler *Handler) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = defaultUpdateTimeout
	updates := handler.bot.GetUpdatesChan(updateConfig)
	defer handler.bot.StopReceivingUpdates()

	var waitGroup sync.WaitGroup
	defer waitGroup.Wait()
	slots := make(chan struct{}, handler.config.Workers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			waitGroup.Add(1)
			go func(update tgbotapi.Update) {
				defer waitGroup.Done()
				defer func() { <-slots }()
				handler.HandleUpdate(ctx, update)
			}(update)
		}
	}
}

// HandleUpdate processes one update. Every interaction from a non-administrator passes the
// membership gate and then retries any pending referral credit.
func (handler *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	request, ok := parseUpdate(update)
	if !ok {
		return
	}
	if request.callbackID != "" {
		if _, err := handler.bot.Request(tgbotapi.NewCallback(request.callbackID, "")); err != nil {
			handler.logger.Debug("callback answer failed", zap.Error(err))
		}
	}

	_, created, err := handler.service.EnsureAccount(ctx, request.userID)
	if err != nil {
		handler.fail(request, "ensure account", err)
		return
	}
	if created && request.command == commandStart {
		handler.recordReferral(ctx, request)
	}
	// A command abandons pending input, so the next text is not taken as an identifier.
	if request.command != "" {
		if _, err := handler.service.ReceiveMessage(ctx, request.userID); err != nil {
			handler.fail(request, "receive message", err)
			return
		}
	}

	if handler.service.IsAdministrator(request.userID) {
		if handler.handleAdminCommand(ctx, request) {
			return
		}
	} else if !handler.passGate(ctx, request) {
		return
	}
	handler.route(ctx, request)
}

func (handler *Handler) passGate(ctx context.Context, request incoming) bool {
	gate, err := handler.service.EnforceGate(ctx, request.userID)
	if err != nil {
		handler.fail(request, "enforce gate", err)
		return false
	}
	if !gate.Pass {
		if gate.Membership.Err != nil {
			handler.logger.Info("membership check inconclusive",
				zap.Int64("user_id", request.userID.Int64()),
				zap.String("outcome", string(gate.Membership.Outcome)),
				zap.Error(gate.Membership.Err))
		}
		handler.sendJoinRequired(ctx, request.chatID)
		return false
	}
	referral, err := handler.service.TryCreditReferral(ctx, request.userID)
	if err != nil {
		handler.logger.Warn("referral credit failed", zap.Int64("user_id", request.userID.Int64()), zap.Error(err))
	} else if referral.Credited && referral.Notification.Outcome != ledger.OutcomeSuccess {
		handler.logger.Info("referral notification not delivered",
			zap.Int64("referrer_id", referral.ReferrerID.Int64()),
			zap.String("outcome", string(referral.Notification.Outcome)),
			zap.Error(referral.Notification.Err))
	}
	return true
}

func (handler *Handler) route(ctx context.Context, request incoming) {
	switch {
	case request.callbackID != "":
		handler.routeCallback(ctx, request)
	case request.command != "":
		handler.routeCommand(ctx, request)
	default:
		handler.routeText(ctx, request)
	}
}

func (handler *Handler) routeCallback(ctx context.Context, request incoming) {
	switch request.data {
	case callbackCheckVehicle:
		if _, err := handler.service.StartInput(ctx, request.userID); err != nil {
			handler.fail(request, "start input", err)
			return
		}
		handler.send(request.chatID, vehicleInputMessage, backToMenuKeyboard())
	case callbackMainMenu, callbackRecheckJoin:
		handler.showMainMenu(ctx, request)
	case callbackCredits:
		handler.showCredits(ctx, request)
	case callbackReferral:
		handler.showReferral(ctx, request)
	case callbackSupport:
		handler.send(request.chatID, fmt.Sprintf(supportMessageFormat, handler.config.SupportUsername), backToMenuKeyboard())
	case callbackHelp:
		handler.send(request.chatID, helpMessage, backToMenuKeyboard())
	default:
		handler.showMainMenu(ctx, request)
	}
}

func (handler *Handler) routeCommand(ctx context.Context, request incoming) {
	switch request.command {
	case commandStart, commandMenu:
		handler.showMainMenu(ctx, request)
	case commandCancel:
		if _, err := handler.service.CancelInput(ctx, request.userID); err != nil {
			handler.fail(request, "cancel input", err)
			return
		}
		handler.send(request.chatID, cancelledMessage, mainMenuKeyboard())
	case commandVehicle:
		if strings.TrimSpace(request.arguments) == "" {
			handler.send(request.chatID, vehicleUsageMessage, nil)
			return
		}
		handler.lookupVehicle(ctx, request, request.arguments)
	case commandCredits:
		handler.showCredits(ctx, request)
	case commandRefer:
		handler.showReferral(ctx, request)
	case commandHelp:
		handler.send(request.chatID, helpMessage, backToMenuKeyboard())
	case commandSupport:
		handler.send(request.chatID, fmt.Sprintf(supportMessageFormat, handler.config.SupportUsername), backToMenuKeyboard())
	default:
		handler.send(request.chatID, unknownInputMessage, nil)
	}
}

func (handler *Handler) routeText(ctx context.Context, request incoming) {
	awaited, err := handler.service.ReceiveMessage(ctx, request.userID)
	if err != nil {
		handler.fail(request, "receive message", err)
		return
	}
	if !awaited {
		handler.send(request.chatID, unknownInputMessage, mainMenuKeyboard())
		return
	}
	handler.lookupVehicle(ctx, request, request.text)
}

// lookupVehicle validates first so a malformed identifier never costs a unit.
func (handler *Handler) lookupVehicle(ctx context.Context, request incoming, raw string) {
	identifier, err := lookup.NormalizeIdentifier(raw)
	if err != nil {
		handler.send(request.chatID, invalidIdentifierMessage, backToMenuKeyboard())
		return
	}
	handler.send(request.chatID, fetchingMessage, nil)

	var result lookup.Result
	decision, err := handler.service.RunPaidAction(ctx, request.userID, func(ctx context.Context) error {
		var fetchErr error
		result, fetchErr = handler.lookup.Fetch(ctx, identifier)
		return fetchErr
	})
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		handler.send(request.chatID, insufficientBalanceMessage, backToMenuKeyboard())
		return
	case err != nil:
		handler.logger.Warn("vehicle lookup failed",
			zap.Int64("user_id", request.userID.Int64()),
			zap.String("identifier", identifier),
			zap.String("plan", decision.Plan.String()),
			zap.Error(err))
		handler.send(request.chatID, lookupFailedMessage, backToMenuKeyboard())
		return
	}
	handler.send(request.chatID, truncate(fmt.Sprintf(vehicleResultFormat, result.Identifier, string(result.Payload))), backToMenuKeyboard())
}

func (handler *Handler) showMainMenu(ctx context.Context, request incoming) {
	if _, err := handler.service.CancelInput(ctx, request.userID); err != nil {
		handler.fail(request, "main menu", err)
		return
	}
	handler.send(request.chatID, mainMenuMessage, mainMenuKeyboard())
}

func (handler *Handler) showCredits(ctx context.Context, request incoming) {
	account, err := handler.service.GetAccount(ctx, request.userID)
	if err != nil {
		handler.fail(request, "credits", err)
		return
	}
	config, err := handler.service.RuntimeConfig(ctx)
	if err != nil {
		handler.fail(request, "credits", err)
		return
	}
	subscription := subscriptionInactiveLabel
	if account.Subscription {
		subscription = subscriptionActiveLabel
	}
	globalFree := globalFreeOffLabel
	if ledger.GlobalFreeActive(config.GlobalFreeUntil, handler.nowFn()) {
		globalFree = fmt.Sprintf(globalFreeActiveLabelFormat, config.GlobalFreeUntil)
	}
	text := fmt.Sprintf(creditsMessageFormat,
		account.Trials, account.Credits, subscription, globalFree, account.RefCount,
		config.ReferralReward, handler.config.SupportUsername)
	handler.send(request.chatID, text, backToMenuKeyboard())
}

func (handler *Handler) showReferral(ctx context.Context, request incoming) {
	account, err := handler.service.GetAccount(ctx, request.userID)
	if err != nil {
		handler.fail(request, "referral", err)
		return
	}
	config, err := handler.service.RuntimeConfig(ctx)
	if err != nil {
		handler.fail(request, "referral", err)
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s%s", handler.config.BotUsername, referralPayloadPrefix, request.userID.String())
	text := fmt.Sprintf(referralMessageFormat,
		config.ReferralReward, link, account.RefCount, config.ReferralTarget, account.RefCount*config.ReferralReward)
	handler.send(request.chatID, text, backToMenuKeyboard())
}

func (handler *Handler) recordReferral(ctx context.Context, request incoming) {
	payload := strings.TrimSpace(request.arguments)
	if !strings.HasPrefix(payload, referralPayloadPrefix) {
		return
	}
	referrerID, err := ledger.ParseUserID(strings.TrimPrefix(payload, referralPayloadPrefix))
	if err != nil {
		handler.logger.Debug("ignoring malformed referral payload", zap.String("payload", payload))
		return
	}
	if _, err := handler.service.RecordReferral(ctx, request.userID, referrerID); err != nil {
		handler.logger.Warn("record referral failed", zap.Int64("user_id", request.userID.Int64()), zap.Error(err))
	}
}

// handleAdminCommand reports whether the request was an administrator command.
func (handler *Handler) handleAdminCommand(ctx context.Context, request incoming) bool {
	switch request.command {
	case commandGrant:
		fields := strings.Fields(request.arguments)
		if len(fields) != 2 {
			handler.send(request.chatID, grantUsageMessage, nil)
			return true
		}
		target, err := ledger.ParseUserID(fields[0])
		if err != nil {
			handler.send(request.chatID, grantUsageMessage, nil)
			return true
		}
		amount, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			handler.send(request.chatID, grantUsageMessage, nil)
			return true
		}
		account, err := handler.service.GrantCredits(ctx, target, amount)
		if err != nil {
			handler.send(request.chatID, err.Error(), nil)
			return true
		}
		handler.send(request.chatID, fmt.Sprintf(grantDoneFormat, amount, target.String(), account.Credits), nil)
		return true
	case commandFree:
		argument := strings.TrimSpace(request.arguments)
		if argument == "" {
			handler.send(request.chatID, freeUsageMessage, nil)
			return true
		}
		if strings.EqualFold(argument, globalFreeDisableArgument) {
			argument = ""
		}
		config, err := handler.service.SetGlobalFreeUntil(ctx, argument)
		if err != nil {
			handler.send(request.chatID, freeUsageMessage, nil)
			return true
		}
		label := globalFreeOffLabel
		if config.GlobalFreeUntil != "" {
			label = fmt.Sprintf(globalFreeActiveLabelFormat, config.GlobalFreeUntil)
		}
		handler.send(request.chatID, fmt.Sprintf(freeDoneFormat, label), nil)
		return true
	case commandStats:
		stats, err := handler.service.Stats(ctx)
		if err != nil {
			handler.fail(request, "stats", err)
			return true
		}
		handler.send(request.chatID, fmt.Sprintf(statsMessageFormat, stats.Accounts, stats.Subscribers, stats.JoinedChannel, stats.CreditedReferrals), nil)
		return true
	default:
		return false
	}
}

func (handler *Handler) sendJoinRequired(ctx context.Context, chatID int64) {
	config, err := handler.service.RuntimeConfig(ctx)
	if err != nil {
		handler.logger.Warn("runtime config unavailable", zap.Error(err))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if link := strings.TrimSpace(config.ChannelLink); link != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(buttonJoinChannel, link)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(buttonJoined, callbackRecheckJoin)))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	handler.send(chatID, joinRequiredMessage, &keyboard)
}

func (handler *Handler) send(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	message := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		message.ReplyMarkup = *keyboard
	}
	if _, err := handler.bot.Send(message); err != nil {
		handler.logger.Warn("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (handler *Handler) fail(request incoming, step string, err error) {
	handler.logger.Error("update handling failed",
		zap.String("step", step),
		zap.Int64("user_id", request.userID.Int64()),
		zap.Error(err))
	handler.send(request.chatID, internalErrorMessage, nil)
}

func parseUpdate(update tgbotapi.Update) (incoming, bool) {
	switch {
	case update.CallbackQuery != nil:
		callback := update.CallbackQuery
		if callback.From == nil || callback.Message == nil || callback.Message.Chat == nil {
			return incoming{}, false
		}
		userID, err := ledger.NewUserID(callback.From.ID)
		if err != nil {
			return incoming{}, false
		}
		return incoming{userID: userID, chatID: callback.Message.Chat.ID, callbackID: callback.ID, data: callback.Data}, true
	case update.Message != nil:
		message := update.Message
		if message.From == nil || message.Chat == nil {
			return incoming{}, false
		}
		userID, err := ledger.NewUserID(message.From.ID)
		if err != nil {
			return incoming{}, false
		}
		request := incoming{userID: userID, chatID: message.Chat.ID, text: message.Text}
		if message.IsCommand() {
			request.command = strings.ToLower(message.Command())
			request.arguments = message.CommandArguments()
		}
		return request, true
	default:
		return incoming{}, false
	}
}

func mainMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(buttonCheckVehicle, callbackCheckVehicle)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonCredits, callbackCredits),
			tgbotapi.NewInlineKeyboardButtonData(buttonReferral, callbackReferral),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonSupport, callbackSupport),
			tgbotapi.NewInlineKeyboardButtonData(buttonHelp, callbackHelp),
		),
	)
	return &keyboard
}

func backToMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(buttonBackToMenu, callbackMainMenu)),
	)
	return &keyboard
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageRunes {
		return text
	}
	return string(runes[:maxMessageRunes]) + "…"
}
