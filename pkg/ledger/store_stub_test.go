package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

const clockValue int64 = 1_750_000_000

var errCommitFailure = errors.New("commit failure")

// memStore mirrors the file store semantics: one lock, staged writes, all-or-nothing commit.
type memStore struct {
	mu        sync.Mutex
	accounts  map[UserID]Account
	config    RuntimeConfig
	commitErr error
	commits   int
}

type memTransaction struct {
	parent   *memStore
	accounts map[UserID]Account
	config   *RuntimeConfig
}

func newMemStore(test *testing.T, config RuntimeConfig) *memStore {
	test.Helper()
	return &memStore{accounts: make(map[UserID]Account), config: config}
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction := &memTransaction{parent: store, accounts: make(map[UserID]Account)}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if len(transaction.accounts) == 0 && transaction.config == nil {
		return nil
	}
	if store.commitErr != nil {
		return store.commitErr
	}
	for userID, account := range transaction.accounts {
		store.accounts[userID] = account
	}
	if transaction.config != nil {
		store.config = *transaction.config
	}
	store.commits++
	return nil
}

func (store *memStore) GetAccount(ctx context.Context, userID UserID) (Account, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID]
	return account.Clone(), ok, nil
}

func (store *memStore) PutAccount(ctx context.Context, account Account) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return txStore.PutAccount(ctx, account)
	})
}

func (store *memStore) ListAccounts(ctx context.Context) ([]Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	accounts := make([]Account, 0, len(store.accounts))
	for _, account := range store.accounts {
		accounts = append(accounts, account.Clone())
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left].UserID < accounts[right].UserID })
	return accounts, nil
}

func (store *memStore) RuntimeConfig(ctx context.Context) (RuntimeConfig, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.config, nil
}

func (store *memStore) PutRuntimeConfig(ctx context.Context, config RuntimeConfig) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return txStore.PutRuntimeConfig(ctx, config)
	})
}

func (store *memStore) mustAccount(test *testing.T, userID UserID) Account {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("account %s not found", userID)
	}
	return account.Clone()
}

func (store *memStore) setCommitError(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.commitErr = err
}

func (transaction *memTransaction) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *memTransaction) GetAccount(ctx context.Context, userID UserID) (Account, bool, error) {
	if account, ok := transaction.accounts[userID]; ok {
		return account.Clone(), true, nil
	}
	account, ok := transaction.parent.accounts[userID]
	return account.Clone(), ok, nil
}

func (transaction *memTransaction) PutAccount(ctx context.Context, account Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	transaction.accounts[account.UserID] = account.Clone()
	return nil
}

func (transaction *memTransaction) ListAccounts(ctx context.Context) ([]Account, error) {
	return nil, errors.New("not supported inside a transaction")
}

func (transaction *memTransaction) RuntimeConfig(ctx context.Context) (RuntimeConfig, error) {
	if transaction.config != nil {
		return *transaction.config, nil
	}
	return transaction.parent.config, nil
}

func (transaction *memTransaction) PutRuntimeConfig(ctx context.Context, config RuntimeConfig) error {
	transaction.config = &config
	return nil
}

type stubOracle struct {
	mu      sync.Mutex
	results map[UserID]MembershipResult
	calls   atomic.Int64
}

func newStubOracle() *stubOracle {
	return &stubOracle{results: make(map[UserID]MembershipResult)}
}

func (oracle *stubOracle) set(userID UserID, result MembershipResult) {
	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	oracle.results[userID] = result
}

func (oracle *stubOracle) CheckMembership(ctx context.Context, channelID string, userID UserID) MembershipResult {
	oracle.calls.Add(1)
	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	result, ok := oracle.results[userID]
	if !ok {
		return MembershipResult{Status: MembershipNotMember, Outcome: OutcomeSuccess}
	}
	return result
}

type stubNotifier struct {
	mu       sync.Mutex
	result   NotificationResult
	messages map[UserID][]string
}

func newStubNotifier(result NotificationResult) *stubNotifier {
	return &stubNotifier{result: result, messages: make(map[UserID][]string)}
}

func (notifier *stubNotifier) Notify(ctx context.Context, userID UserID, text string) NotificationResult {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.messages[userID] = append(notifier.messages[userID], text)
	return notifier.result
}

func (notifier *stubNotifier) count(userID UserID) int {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return len(notifier.messages[userID])
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return clockValue }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw int64) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func channelConfig() RuntimeConfig {
	config := DefaultRuntimeConfig()
	config.ChannelChatID = "-1001234567890"
	return config
}

func memberResult() MembershipResult {
	return MembershipResult{Status: MembershipMember, Outcome: OutcomeSuccess}
}

// retryingStore runs every fn once as a discarded attempt before the real one, the way
// database stores retry serialization failures. between runs once, after the first
// discarded attempt whose staged writes match retryWhen.
type retryingStore struct {
	*memStore
	retryWhen func(transaction *memTransaction) bool
	between   func()
	retried   atomic.Bool
}

func (store *retryingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.retried.Load() {
		return store.memStore.WithTx(ctx, fn)
	}
	store.mu.Lock()
	attempt := &memTransaction{parent: store.memStore, accounts: make(map[UserID]Account)}
	err := fn(ctx, attempt)
	store.mu.Unlock()
	if err == nil && store.retryWhen(attempt) && store.retried.CompareAndSwap(false, true) && store.between != nil {
		store.between()
	}
	return store.memStore.WithTx(ctx, fn)
}
