package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stats summarizes the user registry.
type Stats struct {
	Accounts          int
	Subscribers       int
	JoinedChannel     int
	CreditedReferrals int
}

// GrantCredits adds bonus credits to a user.
func (service *Service) GrantCredits(ctx context.Context, userID UserID, amount int64) (Account, error) {
	return service.grant(ctx, operationGrantCredits, userID, amount, func(account Account) AccountPatch {
		return AccountPatch{Credits: int64Pointer(account.Credits + amount)}
	})
}

// GrantTrials adds free trials to a user.
func (service *Service) GrantTrials(ctx context.Context, userID UserID, amount int64) (Account, error) {
	return service.grant(ctx, operationGrantTrials, userID, amount, func(account Account) AccountPatch {
		return AccountPatch{Trials: int64Pointer(account.Trials + amount)}
	})
}

// SetSubscription toggles unlimited use for a user.
func (service *Service) SetSubscription(ctx context.Context, userID UserID, enabled bool) (Account, error) {
	var updated Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		updated, err = service.updateAccount(ctx, transactionStore, userID, AccountPatch{Subscription: boolPointer(enabled)})
		return err
	})
	service.logOperation(ctx, OperationLog{Operation: operationSubscription, UserID: userID, Error: operationError})
	if operationError != nil {
		return Account{}, operationError
	}
	return updated, nil
}

// SetGlobalFreeUntil sets the last day (YYYY-MM-DD, UTC) of the global free window. Empty disables it.
func (service *Service) SetGlobalFreeUntil(ctx context.Context, until string) (RuntimeConfig, error) {
	trimmed := strings.TrimSpace(until)
	if trimmed != "" {
		if _, err := time.Parse(promoDateLayout, trimmed); err != nil {
			return RuntimeConfig{}, fmt.Errorf("%w: global free date %q", ErrInvalidRuntimeConfig, until)
		}
	}
	return service.UpdateRuntimeConfig(ctx, func(config *RuntimeConfig) {
		config.GlobalFreeUntil = trimmed
	})
}

// UpdateRuntimeConfig mutates and persists the runtime configuration.
func (service *Service) UpdateRuntimeConfig(ctx context.Context, mutate func(config *RuntimeConfig)) (RuntimeConfig, error) {
	var updated RuntimeConfig
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		config, err := transactionStore.RuntimeConfig(ctx)
		if err != nil {
			return err
		}
		mutate(&config)
		if err := config.Validate(); err != nil {
			return err
		}
		updated = config
		return transactionStore.PutRuntimeConfig(ctx, config)
	})
	service.logOperation(ctx, OperationLog{Operation: operationRuntimeConfig, Error: operationError})
	if operationError != nil {
		return RuntimeConfig{}, operationError
	}
	return updated, nil
}

// Stats counts accounts by status. Values may be stale by the time they are displayed.
func (service *Service) Stats(ctx context.Context) (Stats, error) {
	accounts, err := service.store.ListAccounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Accounts: len(accounts)}
	for _, account := range accounts {
		if account.Subscription {
			stats.Subscribers++
		}
		if account.JoinedChannel {
			stats.JoinedChannel++
		}
		if account.ReferralCredited {
			stats.CreditedReferrals++
		}
	}
	return stats, nil
}

func (service *Service) grant(ctx context.Context, operation string, userID UserID, amount int64, patchFor func(Account) AccountPatch) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	var updated Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, _, err := service.ensureAccount(ctx, transactionStore, userID)
		if err != nil {
			return err
		}
		updated, err = service.updateAccount(ctx, transactionStore, userID, patchFor(account))
		return err
	})
	service.logOperation(ctx, OperationLog{Operation: operation, UserID: userID, Amount: amount, Error: operationError})
	if operationError != nil {
		return Account{}, operationError
	}
	return updated, nil
}
