package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestConversationStateNext(test *testing.T) {
	test.Parallel()
	cases := []struct {
		from  ConversationState
		event ConversationEvent
		want  ConversationState
	}{
		{from: ConversationMainMenu, event: EventStartInput, want: ConversationAwaitingInput},
		{from: ConversationAwaitingInput, event: EventMessage, want: ConversationMainMenu},
		{from: ConversationAwaitingInput, event: EventCancel, want: ConversationMainMenu},
		{from: ConversationMainMenu, event: EventCancel, want: ConversationMainMenu},
		{from: ConversationAwaitingInput, event: EventStartInput, want: ConversationAwaitingInput},
	}
	for _, tc := range cases {
		got, err := tc.from.Next(tc.event)
		if err != nil {
			test.Fatalf("%s --%s-->: %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			test.Fatalf("%s --%s--> expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
	if _, err := ConversationMainMenu.Next(ConversationEvent("teleport")); !errors.Is(err, ErrInvalidConversationState) {
		test.Fatalf("expected ErrInvalidConversationState, got %v", err)
	}
}

func TestConversationLifecycle(test *testing.T) {
	test.Parallel()
	store := newMemStore(test, DefaultRuntimeConfig())
	service := mustNewService(test, store)
	user := mustUserID(test, 41)

	awaited, err := service.ReceiveMessage(context.Background(), user)
	if err != nil || awaited {
		test.Fatalf("expected stray message ignored, got %v %v", awaited, err)
	}

	account, err := service.StartInput(context.Background(), user)
	if err != nil {
		test.Fatalf("start input: %v", err)
	}
	if account.State != ConversationAwaitingInput || !account.AwaitingInput {
		test.Fatalf("expected awaiting input, got %+v", account)
	}

	awaited, err = service.ReceiveMessage(context.Background(), user)
	if err != nil || !awaited {
		test.Fatalf("expected awaited message, got %v %v", awaited, err)
	}
	stored := store.mustAccount(test, user)
	if stored.State != ConversationMainMenu || stored.AwaitingInput {
		test.Fatalf("expected main menu after message, got %+v", stored)
	}

	if _, err := service.StartInput(context.Background(), user); err != nil {
		test.Fatalf("start input: %v", err)
	}
	account, err = service.CancelInput(context.Background(), user)
	if err != nil || account.State != ConversationMainMenu || account.AwaitingInput {
		test.Fatalf("expected cancel to return to main menu, got %+v %v", account, err)
	}
}
