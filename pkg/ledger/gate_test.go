package ledger

import (
	"context"
	"testing"
	"time"
)

type blockingOracle struct{}

func (blockingOracle) CheckMembership(ctx context.Context, channelID string, userID UserID) MembershipResult {
	<-ctx.Done()
	return MembershipResult{Status: MembershipUnknown, Outcome: OutcomeTransientFailure, Err: ctx.Err()}
}

func TestEnforceGateFailsOpenWithoutChannel(test *testing.T) {
	test.Parallel()
	for _, channelID := range []string{"", "  ", placeholderChannelChatID} {
		config := DefaultRuntimeConfig()
		config.ChannelChatID = channelID
		store := newMemStore(test, config)
		oracle := newStubOracle()
		service := mustNewService(test, store, WithMembershipOracle(oracle))
		user := mustUserID(test, 31)

		result, err := service.EnforceGate(context.Background(), user)
		if err != nil {
			test.Fatalf("gate %q: %v", channelID, err)
		}
		if !result.Pass {
			test.Fatalf("gate %q: expected pass", channelID)
		}
		if oracle.calls.Load() != 0 {
			test.Fatalf("gate %q: oracle must not be consulted", channelID)
		}
		if !store.mustAccount(test, user).JoinedChannel {
			test.Fatalf("gate %q: expected joined_channel persisted", channelID)
		}
	}
}

func TestEnforceGateFollowsOracle(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name   string
		result MembershipResult
		pass   bool
	}{
		{name: "member", result: memberResult(), pass: true},
		{name: "not member", result: MembershipResult{Status: MembershipNotMember, Outcome: OutcomeSuccess}, pass: false},
		{name: "unknown", result: MembershipResult{Status: MembershipUnknown, Outcome: OutcomeTransientFailure}, pass: false},
		{name: "empty status", result: MembershipResult{Outcome: OutcomePermanentFailure}, pass: false},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			store := newMemStore(test, channelConfig())
			oracle := newStubOracle()
			user := mustUserID(test, 32)
			oracle.set(user, tc.result)
			service := mustNewService(test, store, WithMembershipOracle(oracle))

			result, err := service.EnforceGate(context.Background(), user)
			if err != nil {
				test.Fatalf("gate: %v", err)
			}
			if result.Pass != tc.pass {
				test.Fatalf("expected pass=%v, got %+v", tc.pass, result)
			}
			if store.mustAccount(test, user).JoinedChannel != tc.pass {
				test.Fatalf("expected joined_channel=%v", tc.pass)
			}
		})
	}
}

func TestEnforceGateRevokesJoinedChannel(test *testing.T) {
	test.Parallel()
	store := newMemStore(test, channelConfig())
	oracle := newStubOracle()
	user := mustUserID(test, 33)
	service := mustNewService(test, store, WithMembershipOracle(oracle))

	oracle.set(user, memberResult())
	if _, err := service.EnforceGate(context.Background(), user); err != nil {
		test.Fatalf("gate: %v", err)
	}
	oracle.set(user, MembershipResult{Status: MembershipNotMember, Outcome: OutcomeSuccess})
	result, err := service.EnforceGate(context.Background(), user)
	if err != nil || result.Pass {
		test.Fatalf("expected gate to close after leaving, got %+v %v", result, err)
	}
	if store.mustAccount(test, user).JoinedChannel {
		test.Fatalf("expected joined_channel cleared")
	}
}

func TestEnforceGateAdministratorBypass(test *testing.T) {
	test.Parallel()
	store := newMemStore(test, channelConfig())
	oracle := newStubOracle()
	administrator := mustUserID(test, 7777680053)
	service := mustNewService(test, store, WithMembershipOracle(oracle), WithAdministrator(administrator))

	result, err := service.EnforceGate(context.Background(), administrator)
	if err != nil || !result.Pass {
		test.Fatalf("expected administrator to pass, got %+v %v", result, err)
	}
	if oracle.calls.Load() != 0 {
		test.Fatalf("oracle must not be consulted for the administrator")
	}
}

func TestEnforceGateWithoutOracleDenies(test *testing.T) {
	test.Parallel()
	store := newMemStore(test, channelConfig())
	service := mustNewService(test, store)
	result, err := service.EnforceGate(context.Background(), mustUserID(test, 34))
	if err != nil {
		test.Fatalf("gate: %v", err)
	}
	if result.Pass || result.Membership.Outcome != OutcomePermanentFailure {
		test.Fatalf("expected deny with permanent failure, got %+v", result)
	}
}

func TestCheckMembershipHonorsTimeout(test *testing.T) {
	test.Parallel()
	store := newMemStore(test, channelConfig())
	service := mustNewService(test, store, WithMembershipOracle(blockingOracle{}), WithMembershipTimeout(20*time.Millisecond))

	started := time.Now()
	result, err := service.CheckMembership(context.Background(), mustUserID(test, 35))
	if err != nil {
		test.Fatalf("check: %v", err)
	}
	if result.IsMember() || result.Outcome != OutcomeTransientFailure {
		test.Fatalf("expected transient unknown, got %+v", result)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		test.Fatalf("timeout not applied, took %s", elapsed)
	}
}
