package ledger

import (
	"context"
	"fmt"
)

// ReferralResult reports what TryCreditReferral did.
type ReferralResult struct {
	Credited     bool
	ReferrerID   UserID
	Reward       int64
	Membership   MembershipResult
	Notification NotificationResult
}

// RecordReferral stores the referrer of a new account. The first referrer wins; later calls
// with another referrer and self referrals are ignored. The bool reports whether it was stored.
func (service *Service) RecordReferral(ctx context.Context, newAccountID UserID, referrerID UserID) (bool, error) {
	if referrerID <= 0 {
		return false, fmt.Errorf("%w: referrer", ErrInvalidUserID)
	}
	if referrerID == newAccountID {
		return false, nil
	}
	recorded := false
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded = false
		account, _, err := service.ensureAccount(ctx, transactionStore, newAccountID)
		if err != nil {
			return err
		}
		if account.ReferrerID != nil {
			return nil
		}
		if _, err := service.updateAccount(ctx, transactionStore, newAccountID, AccountPatch{ReferrerID: &referrerID}); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if recorded || operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: operationRecordReferral, UserID: newAccountID, Error: operationError})
	}
	if operationError != nil {
		return false, operationError
	}
	return recorded, nil
}

// TryCreditReferral pays the referrer of newAccountID at most once, after the new account
// satisfies the membership requirement. Safe to call on every interaction.
func (service *Service) TryCreditReferral(ctx context.Context, newAccountID UserID) (ReferralResult, error) {
	account, err := service.GetAccount(ctx, newAccountID)
	if err != nil {
		return ReferralResult{}, err
	}
	if !account.HasPendingReferral() {
		return ReferralResult{}, nil
	}
	membership, err := service.CheckMembership(ctx, newAccountID)
	if err != nil {
		return ReferralResult{}, err
	}
	result := ReferralResult{Membership: membership}
	if !membership.IsMember() {
		return result, nil
	}

	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// Stores may run fn again after a failed attempt.
		result = ReferralResult{Membership: membership}
		current, _, err := service.ensureAccount(ctx, transactionStore, newAccountID)
		if err != nil {
			return err
		}
		// Another caller may have credited between the unlocked read and now.
		if !current.HasPendingReferral() {
			return nil
		}
		config, err := transactionStore.RuntimeConfig(ctx)
		if err != nil {
			return err
		}
		referrerID := *current.ReferrerID
		referrer, _, err := service.ensureAccount(ctx, transactionStore, referrerID)
		if err != nil {
			return err
		}
		if _, err := service.updateAccount(ctx, transactionStore, referrerID, AccountPatch{
			Credits:  int64Pointer(referrer.Credits + config.ReferralReward),
			RefCount: int64Pointer(referrer.RefCount + 1),
		}); err != nil {
			return err
		}
		if _, err := service.updateAccount(ctx, transactionStore, newAccountID, AccountPatch{ReferralCredited: boolPointer(true)}); err != nil {
			return err
		}
		result.Credited = true
		result.ReferrerID = referrerID
		result.Reward = config.ReferralReward
		return nil
	})
	if operationError != nil {
		result.Credited = false
	}
	if result.Credited || operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationCreditReferral,
			UserID:    result.ReferrerID,
			Amount:    result.Reward,
			Error:     operationError,
		})
	}
	if operationError != nil {
		return ReferralResult{Membership: membership}, operationError
	}
	if result.Credited {
		result.Notification = service.notify(ctx, result.ReferrerID, fmt.Sprintf(referralNotificationFormat, result.Reward))
	}
	return result, nil
}

func (service *Service) notify(ctx context.Context, userID UserID, text string) NotificationResult {
	if service.notifier == nil {
		return NotificationResult{Outcome: OutcomePermanentFailure, Err: fmt.Errorf("%w: notifier is not configured", ErrInvalidServiceConfig)}
	}
	if service.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, service.notifyTimeout)
		defer cancel()
	}
	return service.notifier.Notify(ctx, userID, text)
}
