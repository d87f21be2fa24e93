package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DebitPlan names the balance unit a paid action consumes.
type DebitPlan string

const (
	DebitPlanNone   DebitPlan = "none"
	DebitPlanTrial  DebitPlan = "decrement_trial"
	DebitPlanCredit DebitPlan = "decrement_credit"
	DebitPlanDeny   DebitPlan = "deny"
)

// String returns the plan name.
func (plan DebitPlan) String() string {
	return string(plan)
}

// PriceDecision is the outcome of PriceCheck.
type PriceDecision struct {
	Allowed bool
	Plan    DebitPlan
}

// PriceCheck picks the debit plan for one paid action. First match wins:
// administrator, subscription, promo window, trials, credits, deny.
func PriceCheck(account Account, isAdministrator bool, promoActive bool) PriceDecision {
	switch {
	case isAdministrator:
		return PriceDecision{Allowed: true, Plan: DebitPlanNone}
	case account.Subscription:
		return PriceDecision{Allowed: true, Plan: DebitPlanNone}
	case promoActive:
		return PriceDecision{Allowed: true, Plan: DebitPlanNone}
	case account.Trials > 0:
		return PriceDecision{Allowed: true, Plan: DebitPlanTrial}
	case account.Credits > 0:
		return PriceDecision{Allowed: true, Plan: DebitPlanCredit}
	default:
		return PriceDecision{Allowed: false, Plan: DebitPlanDeny}
	}
}

// ApplyDebitPlan takes one unit from the balance the plan names.
// A debit that would drive a balance negative is rejected, never clamped.
func ApplyDebitPlan(account Account, plan DebitPlan) (Account, error) {
	switch plan {
	case DebitPlanNone, DebitPlanDeny:
		return account, nil
	case DebitPlanTrial:
		if account.Trials <= 0 {
			return account, fmt.Errorf("%w: no trials left", ErrInsufficientBalance)
		}
		account.Trials--
		return account, nil
	case DebitPlanCredit:
		if account.Credits <= 0 {
			return account, fmt.Errorf("%w: no credits left", ErrInsufficientBalance)
		}
		account.Credits--
		return account, nil
	default:
		return account, fmt.Errorf("%w: %q", ErrInvalidDebitPlan, plan)
	}
}

// GlobalFreeActive reports whether the promo date covers now, comparing UTC calendar dates.
// Empty or unparseable values are inactive.
func GlobalFreeActive(until string, now time.Time) bool {
	trimmed := strings.TrimSpace(until)
	if trimmed == "" {
		return false
	}
	lastDay, err := time.Parse(promoDateLayout, trimmed)
	if err != nil {
		return false
	}
	today, err := time.Parse(promoDateLayout, now.UTC().Format(promoDateLayout))
	if err != nil {
		return false
	}
	return !today.After(lastDay)
}

// HoldID identifies a reserved balance unit.
type HoldID string

// Hold is a balance unit taken for a paid action that has not completed yet.
type Hold struct {
	ID     HoldID
	UserID UserID
	Plan   DebitPlan
}

// Quote evaluates the price of the next paid action without mutating anything.
func (service *Service) Quote(ctx context.Context, userID UserID) (PriceDecision, error) {
	account, err := service.GetAccount(ctx, userID)
	if err != nil {
		return PriceDecision{}, err
	}
	config, err := service.store.RuntimeConfig(ctx)
	if err != nil {
		return PriceDecision{}, err
	}
	return PriceCheck(account, service.IsAdministrator(userID), GlobalFreeActive(config.GlobalFreeUntil, service.now())), nil
}

// Reserve re-reads the account under the lock, decides the plan, and takes the unit.
// ErrInsufficientBalance is returned when the plan is deny.
func (service *Service) Reserve(ctx context.Context, userID UserID) (Hold, PriceDecision, error) {
	var decision PriceDecision
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, _, err := service.ensureAccount(ctx, transactionStore, userID)
		if err != nil {
			return err
		}
		config, err := transactionStore.RuntimeConfig(ctx)
		if err != nil {
			return err
		}
		decision = PriceCheck(account, service.IsAdministrator(userID), GlobalFreeActive(config.GlobalFreeUntil, service.now()))
		if !decision.Allowed {
			return ErrInsufficientBalance
		}
		debited, err := ApplyDebitPlan(account, decision.Plan)
		if err != nil {
			return err
		}
		_, err = service.updateAccount(ctx, transactionStore, userID, AccountPatch{
			Trials:  int64Pointer(debited.Trials),
			Credits: int64Pointer(debited.Credits),
		})
		return err
	})
	hold := Hold{UserID: userID, Plan: decision.Plan}
	if operationError == nil {
		hold.ID = HoldID(service.newID())
		service.holdsMu.Lock()
		service.holds[hold.ID] = hold
		service.holdsMu.Unlock()
	}
	service.logOperation(ctx, OperationLog{
		OperationID: string(hold.ID),
		Operation:   operationReserve,
		UserID:      userID,
		Amount:      debitAmount(decision.Plan),
		Plan:        decision.Plan,
		Error:       operationError,
	})
	if operationError != nil {
		return Hold{}, decision, operationError
	}
	return hold, decision, nil
}

// Capture finalizes a hold once the paid action succeeded.
func (service *Service) Capture(ctx context.Context, holdID HoldID) error {
	hold, err := service.takeHold(holdID)
	service.logOperation(ctx, OperationLog{
		OperationID: string(holdID),
		Operation:   operationCapture,
		UserID:      hold.UserID,
		Amount:      debitAmount(hold.Plan),
		Plan:        hold.Plan,
		Error:       err,
	})
	return err
}

// Release returns the held unit to the balance it was taken from.
func (service *Service) Release(ctx context.Context, holdID HoldID) error {
	hold, operationError := service.takeHold(holdID)
	if operationError == nil && debitAmount(hold.Plan) > 0 {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, _, err := service.ensureAccount(ctx, transactionStore, hold.UserID)
			if err != nil {
				return err
			}
			patch := AccountPatch{}
			switch hold.Plan {
			case DebitPlanTrial:
				patch.Trials = int64Pointer(account.Trials + 1)
			case DebitPlanCredit:
				patch.Credits = int64Pointer(account.Credits + 1)
			}
			_, err = service.updateAccount(ctx, transactionStore, hold.UserID, patch)
			return err
		})
		if operationError != nil {
			service.holdsMu.Lock()
			service.holds[hold.ID] = hold
			service.holdsMu.Unlock()
		}
	}
	service.logOperation(ctx, OperationLog{
		OperationID: string(holdID),
		Operation:   operationRelease,
		UserID:      hold.UserID,
		Amount:      debitAmount(hold.Plan),
		Plan:        hold.Plan,
		Error:       operationError,
	})
	return operationError
}

// RunPaidAction reserves a unit, runs action outside the lock, and captures on success or releases on failure.
func (service *Service) RunPaidAction(ctx context.Context, userID UserID, action func(ctx context.Context) error) (PriceDecision, error) {
	hold, decision, err := service.Reserve(ctx, userID)
	if err != nil {
		return decision, err
	}
	if actionErr := action(ctx); actionErr != nil {
		if releaseErr := service.Release(ctx, hold.ID); releaseErr != nil {
			return decision, fmt.Errorf("%w (release failed: %v)", actionErr, releaseErr)
		}
		return decision, actionErr
	}
	return decision, service.Capture(ctx, hold.ID)
}

// PendingHolds returns the number of holds neither captured nor released.
func (service *Service) PendingHolds() int {
	service.holdsMu.Lock()
	defer service.holdsMu.Unlock()
	return len(service.holds)
}

func (service *Service) takeHold(holdID HoldID) (Hold, error) {
	service.holdsMu.Lock()
	defer service.holdsMu.Unlock()
	hold, ok := service.holds[holdID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrUnknownHold, holdID)
	}
	delete(service.holds, holdID)
	return hold, nil
}

func debitAmount(plan DebitPlan) int64 {
	if plan == DebitPlanTrial || plan == DebitPlanCredit {
		return 1
	}
	return 0
}
