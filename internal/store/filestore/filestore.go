package filestore

import (
	"context"
	"sort"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
)

const (
	// UsersDocument holds the account registry.
	UsersDocument = "users.json"
	// ConfigDocument holds the runtime configuration.
	ConfigDocument = "config.json"
)

// Store implements ledger.Store over two JSON documents kept in memory and
// rewritten atomically on every committed transaction. Other stores may share the
// directory: each locked section first reloads the documents they changed.
type Store struct {
	documents *Documents
	accounts  map[ledger.UserID]ledger.Account
	config    ledger.RuntimeConfig
}

// Open loads both documents from directory. Missing or corrupt documents start from
// an empty registry and the seed configuration; nothing is written until the first commit.
func Open(directory string, seed ledger.RuntimeConfig, options ...Option) (*Store, error) {
	documents, err := NewDocuments(directory, options...)
	if err != nil {
		return nil, err
	}
	store := &Store{documents: documents, accounts: make(map[ledger.UserID]ledger.Account), config: seed}
	if err := documents.Locked(func(SaveFunc) error {
		return store.refresh()
	}); err != nil {
		return nil, err
	}
	return store, nil
}

// Documents exposes the underlying document set.
func (store *Store) Documents() *Documents {
	return store.documents
}

// WithTx stages every write made by fn and commits them only when fn succeeds.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.documents.Locked(func(save SaveFunc) error {
		if err := store.refresh(); err != nil {
			return err
		}
		transaction := &transaction{store: store, accounts: make(map[ledger.UserID]ledger.Account)}
		if err := fn(ctx, transaction); err != nil {
			return err
		}
		return transaction.commit(save)
	})
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, bool, error) {
	var (
		account ledger.Account
		found   bool
	)
	err := store.documents.Locked(func(SaveFunc) error {
		if err := store.refresh(); err != nil {
			return err
		}
		account, found = store.accounts[userID]
		return nil
	})
	return account.Clone(), found, err
}

func (store *Store) PutAccount(ctx context.Context, account ledger.Account) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return txStore.PutAccount(ctx, account)
	})
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := store.documents.Locked(func(SaveFunc) error {
		if err := store.refresh(); err != nil {
			return err
		}
		accounts = sortedAccounts(store.accounts, nil)
		return nil
	})
	return accounts, err
}

func (store *Store) RuntimeConfig(ctx context.Context) (ledger.RuntimeConfig, error) {
	var config ledger.RuntimeConfig
	err := store.documents.Locked(func(SaveFunc) error {
		if err := store.refresh(); err != nil {
			return err
		}
		config = store.config
		return nil
	})
	return config, err
}

func (store *Store) PutRuntimeConfig(ctx context.Context, config ledger.RuntimeConfig) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		return txStore.PutRuntimeConfig(ctx, config)
	})
}

// refresh replaces the in-memory state with any document another writer changed.
// A missing or corrupt document keeps the current state. Must be called under the lock.
func (store *Store) refresh() error {
	if store.documents.changed(UsersDocument) {
		accounts, err := load(store.documents, UsersDocument, newUsersDocument(store.accounts)).accounts()
		if err != nil {
			return err
		}
		store.accounts = accounts
	}
	if store.documents.changed(ConfigDocument) {
		store.config = load(store.documents, ConfigDocument, newConfigDocument(store.config)).runtimeConfig()
	}
	return nil
}

// transaction sees its own staged writes over the committed state. The lock is held for its lifetime.
type transaction struct {
	store    *Store
	accounts map[ledger.UserID]ledger.Account
	config   *ledger.RuntimeConfig
}

func (transaction *transaction) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *transaction) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, bool, error) {
	if account, ok := transaction.accounts[userID]; ok {
		return account.Clone(), true, nil
	}
	account, ok := transaction.store.accounts[userID]
	return account.Clone(), ok, nil
}

func (transaction *transaction) PutAccount(ctx context.Context, account ledger.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	transaction.accounts[account.UserID] = account.Clone()
	return nil
}

func (transaction *transaction) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return sortedAccounts(transaction.store.accounts, transaction.accounts), nil
}

func (transaction *transaction) RuntimeConfig(ctx context.Context) (ledger.RuntimeConfig, error) {
	if transaction.config != nil {
		return *transaction.config, nil
	}
	return transaction.store.config, nil
}

func (transaction *transaction) PutRuntimeConfig(ctx context.Context, config ledger.RuntimeConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	transaction.config = &config
	return nil
}

// commit writes only the documents the transaction touched. In-memory state advances
// per document, after that document is on disk.
func (transaction *transaction) commit(save SaveFunc) error {
	store := transaction.store
	if len(transaction.accounts) > 0 {
		merged := make(map[ledger.UserID]ledger.Account, len(store.accounts)+len(transaction.accounts))
		for userID, account := range store.accounts {
			merged[userID] = account
		}
		for userID, account := range transaction.accounts {
			merged[userID] = account
		}
		if err := save(UsersDocument, newUsersDocument(merged)); err != nil {
			return err
		}
		store.accounts = merged
	}
	if transaction.config != nil {
		if err := save(ConfigDocument, newConfigDocument(*transaction.config)); err != nil {
			return err
		}
		store.config = *transaction.config
	}
	return nil
}

func sortedAccounts(committed map[ledger.UserID]ledger.Account, staged map[ledger.UserID]ledger.Account) []ledger.Account {
	accounts := make([]ledger.Account, 0, len(committed)+len(staged))
	for userID, account := range committed {
		if _, ok := staged[userID]; ok {
			continue
		}
		accounts = append(accounts, account.Clone())
	}
	for _, account := range staged {
		accounts = append(accounts, account.Clone())
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].UserID < accounts[right].UserID
	})
	return accounts
}
