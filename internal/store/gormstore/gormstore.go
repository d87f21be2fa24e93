package gormstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	runtimeConfigName         = "runtime"
	maxTransactionAttempts    = 3
	pgSerializationFailure    = "40001"
	pgDeadlockDetected        = "40P01"
	sqliteBusyCode            = 5
	sqliteLockedCode          = 6
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectRuntimeConfig = "runtime_config"
	errorSubjectSchema        = "schema"
	errorCodeDecode           = "decode"
	errorCodeEncode           = "encode"
	errorCodeGet              = "get"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeMigrate          = "migrate"
	errorCodeUpsert           = "upsert"
)

var payloadCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// runtimeConfigPayload keeps the same keys as the file store's config.json.
type runtimeConfigPayload struct {
	TrialDefault    int64  `json:"FREE_TRIAL_DEFAULT"`
	GlobalFreeUntil string `json:"GLOBAL_FREE_UNTIL"`
	ChannelLink     string `json:"CHANNEL_LINK"`
	ChannelChatID   string `json:"CHANNEL_CHAT_ID"`
	ReferralReward  int64  `json:"REF_CREDIT"`
	ReferralTarget  int64  `json:"REF_TARGET"`
}

// Store implements ledger.Store using GORM.
type Store struct {
	db            *gorm.DB
	seed          ledger.RuntimeConfig
	mu            *sync.Mutex
	inTransaction bool

	// afterAttempt runs inside each transaction once fn succeeds; an error aborts the attempt.
	afterAttempt func(attempt int, txStore ledger.Store) error
	// beforeRetry runs between a retryable failure and the next attempt.
	beforeRetry func(attempt int)
}

// New returns a Store backed by gorm.DB. seed is served until a runtime configuration is saved.
func New(db *gorm.DB, seed ledger.RuntimeConfig) *Store {
	return &Store{db: db, seed: seed, mu: &sync.Mutex{}}
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction. Transactions in one process are serialized,
// and serialization failures or busy databases are retried.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTransaction {
		return fn(ctx, store)
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	var err error
	for attempt := 0; attempt < maxTransactionAttempts; attempt++ {
		err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			txStore := &Store{db: transaction, seed: store.seed, mu: store.mu, inTransaction: true}
			if err := fn(ctx, txStore); err != nil {
				return err
			}
			if store.afterAttempt != nil {
				return store.afterAttempt(attempt, txStore)
			}
			return nil
		})
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		if store.beforeRetry != nil {
			store.beforeRetry(attempt)
		}
	}
	return err
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, bool, error) {
	query := store.db.WithContext(ctx)
	if store.inTransaction {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("user_id = ?", userID.Int64()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, false, nil
		}
		return ledger.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return ledger.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, true, nil
}

func (store *Store) PutAccount(ctx context.Context, account ledger.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	model := accountModel(account)
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []Account
	if err := store.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		account, err := mapAccount(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) RuntimeConfig(ctx context.Context) (ledger.RuntimeConfig, error) {
	var model RuntimeConfig
	err := store.db.WithContext(ctx).Where("name = ?", runtimeConfigName).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.seed, nil
		}
		return ledger.RuntimeConfig{}, wrapStoreError(errorSubjectRuntimeConfig, errorCodeGet, err)
	}
	var payload runtimeConfigPayload
	if err := payloadCodec.Unmarshal(model.Payload, &payload); err != nil {
		return ledger.RuntimeConfig{}, wrapStoreError(errorSubjectRuntimeConfig, errorCodeDecode, err)
	}
	config := ledger.RuntimeConfig{
		TrialDefault:    payload.TrialDefault,
		GlobalFreeUntil: payload.GlobalFreeUntil,
		ChannelLink:     payload.ChannelLink,
		ChannelChatID:   payload.ChannelChatID,
		ReferralReward:  payload.ReferralReward,
		ReferralTarget:  payload.ReferralTarget,
	}
	if err := config.Validate(); err != nil {
		return ledger.RuntimeConfig{}, wrapStoreError(errorSubjectRuntimeConfig, errorCodeInvalid, err)
	}
	return config, nil
}

func (store *Store) PutRuntimeConfig(ctx context.Context, config ledger.RuntimeConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	payload, err := payloadCodec.Marshal(runtimeConfigPayload{
		TrialDefault:    config.TrialDefault,
		GlobalFreeUntil: config.GlobalFreeUntil,
		ChannelLink:     config.ChannelLink,
		ChannelChatID:   config.ChannelChatID,
		ReferralReward:  config.ReferralReward,
		ReferralTarget:  config.ReferralTarget,
	})
	if err != nil {
		return wrapStoreError(errorSubjectRuntimeConfig, errorCodeEncode, err)
	}
	model := RuntimeConfig{Name: runtimeConfigName, Payload: datatypes.JSON(payload), UpdatedAt: time.Now().UTC()}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectRuntimeConfig, errorCodeUpsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func accountModel(account ledger.Account) Account {
	model := Account{
		UserID:           account.UserID.Int64(),
		Trials:           account.Trials,
		Credits:          account.Credits,
		Subscription:     account.Subscription,
		JoinedChannel:    account.JoinedChannel,
		ReferralCredited: account.ReferralCredited,
		RefCount:         account.RefCount,
		State:            account.State.String(),
		AwaitingInput:    account.AwaitingInput,
		CreatedUnixUTC:   account.CreatedUnixUTC,
		LastUsedUnixUTC:  account.LastUsedUnixUTC,
	}
	if account.ReferrerID != nil {
		referrer := account.ReferrerID.Int64()
		model.ReferrerID = &referrer
	}
	return model
}

func mapAccount(row Account) (ledger.Account, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Account{}, err
	}
	state, err := ledger.ParseConversationState(row.State)
	if err != nil {
		return ledger.Account{}, err
	}
	account := ledger.Account{
		UserID:           userID,
		Trials:           row.Trials,
		Credits:          row.Credits,
		Subscription:     row.Subscription,
		JoinedChannel:    row.JoinedChannel,
		ReferralCredited: row.ReferralCredited,
		RefCount:         row.RefCount,
		CreatedUnixUTC:   row.CreatedUnixUTC,
		LastUsedUnixUTC:  row.LastUsedUnixUTC,
		State:            state,
		AwaitingInput:    row.AwaitingInput,
	}
	if row.ReferrerID != nil {
		referrerID, err := ledger.NewUserID(*row.ReferrerID)
		if err != nil {
			return ledger.Account{}, err
		}
		account.ReferrerID = &referrerID
	}
	return account, account.Validate()
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
