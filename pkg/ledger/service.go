package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultNotifyTimeout = 10 * time.Second

// Service contains the domain logic over a Store.
type Service struct {
	store             Store
	nowFn             func() int64
	logger            OperationLogger
	administrator     UserID
	oracle            MembershipOracle
	notifier          Notifier
	membershipTimeout time.Duration
	notifyTimeout     time.Duration
	newID             func() string

	holdsMu sync.Mutex
	holds   map[HoldID]Hold
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		nowFn:         now,
		newID:         uuid.NewString,
		holds:         make(map[HoldID]Hold),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// EnsureAccount materializes the account on first reference. The bool reports whether it was created.
func (service *Service) EnsureAccount(ctx context.Context, userID UserID) (Account, bool, error) {
	var (
		account Account
		created bool
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		account, created, err = service.ensureAccount(ctx, transactionStore, userID)
		return err
	})
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: operationCreateAccount, UserID: userID, Error: operationError})
		return Account{}, false, operationError
	}
	if created {
		service.logOperation(ctx, OperationLog{Operation: operationCreateAccount, UserID: userID, Amount: account.Trials})
	}
	return account, created, nil
}

// GetAccount returns the (possibly just created) account.
func (service *Service) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	account, _, err := service.EnsureAccount(ctx, userID)
	return account, err
}

// UpdateAccount merges the patch into the account and stamps last_used.
func (service *Service) UpdateAccount(ctx context.Context, userID UserID, patch AccountPatch) (Account, error) {
	var account Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		account, err = service.updateAccount(ctx, transactionStore, userID, patch)
		return err
	})
	service.logOperation(ctx, OperationLog{Operation: operationUpdateAccount, UserID: userID, Error: operationError})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// RuntimeConfig returns the current runtime configuration.
func (service *Service) RuntimeConfig(ctx context.Context) (RuntimeConfig, error) {
	return service.store.RuntimeConfig(ctx)
}

// IsAdministrator compares by exact numeric equality.
func (service *Service) IsAdministrator(userID UserID) bool {
	return service.administrator != 0 && userID == service.administrator
}

func (service *Service) ensureAccount(ctx context.Context, transactionStore Store, userID UserID) (Account, bool, error) {
	if userID <= 0 {
		return Account{}, false, fmt.Errorf("%w: must be greater than zero", ErrInvalidUserID)
	}
	account, found, err := transactionStore.GetAccount(ctx, userID)
	if err != nil {
		return Account{}, false, err
	}
	if found {
		return account, false, nil
	}
	config, err := transactionStore.RuntimeConfig(ctx)
	if err != nil {
		return Account{}, false, err
	}
	account = NewAccount(userID, config, service.nowFn())
	if err := transactionStore.PutAccount(ctx, account); err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func (service *Service) updateAccount(ctx context.Context, transactionStore Store, userID UserID, patch AccountPatch) (Account, error) {
	account, _, err := service.ensureAccount(ctx, transactionStore, userID)
	if err != nil {
		return Account{}, err
	}
	updated, err := patch.Apply(account)
	if err != nil {
		return Account{}, err
	}
	updated.LastUsedUnixUTC = service.nowFn()
	if err := transactionStore.PutAccount(ctx, updated); err != nil {
		return Account{}, err
	}
	return updated, nil
}

func (service *Service) now() time.Time {
	return time.Unix(service.nowFn(), 0).UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	if entry.OperationID == "" {
		entry.OperationID = service.newID()
	}
	service.logger.LogOperation(ctx, entry)
}

func int64Pointer(value int64) *int64 {
	return &value
}

func boolPointer(value bool) *bool {
	return &value
}
