package ledger

import (
	"context"
	"fmt"
)

// ConversationEvent drives the conversation state machine.
type ConversationEvent string

const (
	EventStartInput ConversationEvent = "start_input"
	EventMessage    ConversationEvent = "message"
	EventCancel     ConversationEvent = "cancel"
)

// Next returns the state after event. Any message received while awaiting input returns to the
// main menu whether or not it validates.
func (state ConversationState) Next(event ConversationEvent) (ConversationState, error) {
	current, err := ParseConversationState(state.String())
	if err != nil {
		return "", err
	}
	switch event {
	case EventStartInput:
		return ConversationAwaitingInput, nil
	case EventMessage, EventCancel:
		return ConversationMainMenu, nil
	default:
		return current, fmt.Errorf("%w: unknown event %q", ErrInvalidConversationState, event)
	}
}

// StartInput moves the user to awaiting a vehicle identifier.
func (service *Service) StartInput(ctx context.Context, userID UserID) (Account, error) {
	return service.transition(ctx, userID, EventStartInput)
}

// CancelInput returns the user to the main menu.
func (service *Service) CancelInput(ctx context.Context, userID UserID) (Account, error) {
	return service.transition(ctx, userID, EventCancel)
}

// ReceiveMessage consumes the awaiting state. The bool reports whether the message was the awaited input.
func (service *Service) ReceiveMessage(ctx context.Context, userID UserID) (bool, error) {
	awaited := false
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, _, err := service.ensureAccount(ctx, transactionStore, userID)
		if err != nil {
			return err
		}
		awaited = account.State == ConversationAwaitingInput || account.AwaitingInput
		if !awaited {
			return nil
		}
		_, err = service.applyEvent(ctx, transactionStore, account, EventMessage)
		return err
	})
	if err != nil {
		return false, err
	}
	return awaited, nil
}

func (service *Service) transition(ctx context.Context, userID UserID, event ConversationEvent) (Account, error) {
	var updated Account
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, _, err := service.ensureAccount(ctx, transactionStore, userID)
		if err != nil {
			return err
		}
		updated, err = service.applyEvent(ctx, transactionStore, account, event)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

func (service *Service) applyEvent(ctx context.Context, transactionStore Store, account Account, event ConversationEvent) (Account, error) {
	next, err := account.State.Next(event)
	if err != nil {
		return Account{}, err
	}
	awaiting := next == ConversationAwaitingInput
	return service.updateAccount(ctx, transactionStore, account.UserID, AccountPatch{State: &next, AwaitingInput: &awaiting})
}
