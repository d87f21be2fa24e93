package telegram

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(chattable tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// classifyError maps a Bot API failure to a collaborator outcome.
// Rejections by Telegram (bad request, blocked, not found) are permanent; everything else may succeed later.
func classifyError(err error) ledger.Outcome {
	if err == nil {
		return ledger.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ledger.OutcomeTransientFailure
	}
	code := 0
	var apiError *tgbotapi.Error
	var apiErrorValue tgbotapi.Error
	switch {
	case errors.As(err, &apiError):
		code = apiError.Code
	case errors.As(err, &apiErrorValue):
		code = apiErrorValue.Code
	}
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return ledger.OutcomePermanentFailure
	default:
		return ledger.OutcomeTransientFailure
	}
}

// call runs a blocking Bot API request and gives up when ctx ends. The request itself keeps running.
func call[T any](ctx context.Context, request func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := request()
		done <- outcome{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case result := <-done:
		return result.value, result.err
	}
}
