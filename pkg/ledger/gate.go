package ledger

import (
	"context"
	"fmt"
	"strings"
)

// GateResult reports whether a user may use the bot at all.
type GateResult struct {
	Pass       bool
	Membership MembershipResult
}

// CheckMembership asks the oracle whether the user belongs to the configured channel.
// An empty or placeholder channel id lets everyone through so a misconfiguration cannot lock out all users.
func (service *Service) CheckMembership(ctx context.Context, userID UserID) (MembershipResult, error) {
	if service.IsAdministrator(userID) {
		return MembershipResult{Status: MembershipMember, Outcome: OutcomeSuccess}, nil
	}
	config, err := service.store.RuntimeConfig(ctx)
	if err != nil {
		return MembershipResult{}, err
	}
	channelID := strings.TrimSpace(config.ChannelChatID)
	if channelID == "" || channelID == placeholderChannelChatID {
		return MembershipResult{Status: MembershipMember, Outcome: OutcomeSuccess}, nil
	}
	if service.oracle == nil {
		return MembershipResult{
			Status:  MembershipUnknown,
			Outcome: OutcomePermanentFailure,
			Err:     fmt.Errorf("%w: membership oracle is not configured", ErrInvalidServiceConfig),
		}, nil
	}
	oracleCtx := ctx
	if service.membershipTimeout > 0 {
		var cancel context.CancelFunc
		oracleCtx, cancel = context.WithTimeout(ctx, service.membershipTimeout)
		defer cancel()
	}
	result := service.oracle.CheckMembership(oracleCtx, channelID, userID)
	if result.Status == "" {
		result.Status = MembershipUnknown
	}
	return result, nil
}

// EnforceGate refreshes joined_channel from the oracle and persists it.
// Administrators pass without consulting the oracle.
func (service *Service) EnforceGate(ctx context.Context, userID UserID) (GateResult, error) {
	if service.IsAdministrator(userID) {
		return GateResult{Pass: true, Membership: MembershipResult{Status: MembershipMember, Outcome: OutcomeSuccess}}, nil
	}
	membership, err := service.CheckMembership(ctx, userID)
	if err != nil {
		return GateResult{}, err
	}
	joined := membership.IsMember()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		_, err := service.updateAccount(ctx, transactionStore, userID, AccountPatch{JoinedChannel: boolPointer(joined)})
		return err
	})
	service.logOperation(ctx, OperationLog{Operation: operationEnforceGate, UserID: userID, Error: operationError})
	if operationError != nil {
		return GateResult{}, operationError
	}
	return GateResult{Pass: joined, Membership: membership}, nil
}
