package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// UserID identifies a chat platform user.
type UserID int64

// NewUserID validates a numeric user id.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUserID)
	}
	return UserID(raw), nil
}

// ParseUserID parses a stringified user id as stored in the user registry document.
func ParseUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	return NewUserID(value)
}

// Int64 exposes the raw identifier.
func (id UserID) Int64() int64 {
	return int64(id)
}

// String returns the registry key form of the identifier.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ConversationState routes the next plain-text message of a user.
type ConversationState string

const (
	ConversationMainMenu      ConversationState = "main_menu"
	ConversationAwaitingInput ConversationState = "awaiting_input"
)

// ParseConversationState validates a stored conversation state. Empty maps to the main menu.
func ParseConversationState(raw string) (ConversationState, error) {
	switch ConversationState(strings.TrimSpace(raw)) {
	case "", ConversationMainMenu:
		return ConversationMainMenu, nil
	case ConversationAwaitingInput:
		return ConversationAwaitingInput, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConversationState, raw)
	}
}

// String returns the stored representation.
func (state ConversationState) String() string {
	return string(state)
}

// Account is the per-user record of balances, flags, and referral/conversation state.
type Account struct {
	UserID           UserID
	Trials           int64
	Credits          int64
	Subscription     bool
	JoinedChannel    bool
	ReferrerID       *UserID
	ReferralCredited bool
	RefCount         int64
	CreatedUnixUTC   int64
	LastUsedUnixUTC  int64
	State            ConversationState
	AwaitingInput    bool
}

// NewAccount materializes a default account for a first reference.
func NewAccount(userID UserID, config RuntimeConfig, nowUnixUTC int64) Account {
	return Account{
		UserID:          userID,
		Trials:          config.TrialDefault,
		CreatedUnixUTC:  nowUnixUTC,
		LastUsedUnixUTC: nowUnixUTC,
		State:           ConversationMainMenu,
	}
}

// Validate enforces the account invariants.
func (account Account) Validate() error {
	if account.UserID <= 0 {
		return fmt.Errorf("%w: account without id", ErrInvalidUserID)
	}
	if account.Trials < 0 || account.Credits < 0 || account.RefCount < 0 {
		return fmt.Errorf("%w: trials=%d credits=%d ref_count=%d", ErrInvalidBalance, account.Trials, account.Credits, account.RefCount)
	}
	if account.ReferrerID != nil {
		if *account.ReferrerID <= 0 {
			return fmt.Errorf("%w: referrer", ErrInvalidUserID)
		}
		if *account.ReferrerID == account.UserID {
			return ErrSelfReferral
		}
	}
	if _, err := ParseConversationState(account.State.String()); err != nil {
		return err
	}
	return nil
}

// HasPendingReferral reports whether the referrer still awaits the reward for this account.
func (account Account) HasPendingReferral() bool {
	return account.ReferrerID != nil && !account.ReferralCredited
}

// Clone returns a copy that shares no pointers with the receiver.
func (account Account) Clone() Account {
	if account.ReferrerID != nil {
		referrer := *account.ReferrerID
		account.ReferrerID = &referrer
	}
	return account
}

// AccountPatch lists the fields to merge into an account. Nil fields are left untouched.
type AccountPatch struct {
	Trials           *int64
	Credits          *int64
	Subscription     *bool
	JoinedChannel    *bool
	ReferrerID       *UserID
	ReferralCredited *bool
	RefCount         *int64
	State            *ConversationState
	AwaitingInput    *bool
}

// Apply merges the patch into the account, rejecting updates that break an invariant.
func (patch AccountPatch) Apply(account Account) (Account, error) {
	updated := account.Clone()
	if patch.Trials != nil {
		updated.Trials = *patch.Trials
	}
	if patch.Credits != nil {
		updated.Credits = *patch.Credits
	}
	if patch.Subscription != nil {
		updated.Subscription = *patch.Subscription
	}
	if patch.JoinedChannel != nil {
		updated.JoinedChannel = *patch.JoinedChannel
	}
	if patch.ReferrerID != nil {
		if account.ReferrerID != nil && *account.ReferrerID != *patch.ReferrerID {
			return account, ErrReferrerAlreadySet
		}
		referrer := *patch.ReferrerID
		updated.ReferrerID = &referrer
	}
	if patch.ReferralCredited != nil {
		if account.ReferralCredited && !*patch.ReferralCredited {
			return account, ErrReferralCreditReset
		}
		updated.ReferralCredited = *patch.ReferralCredited
	}
	if patch.RefCount != nil {
		updated.RefCount = *patch.RefCount
	}
	if patch.State != nil {
		updated.State = *patch.State
	}
	if patch.AwaitingInput != nil {
		updated.AwaitingInput = *patch.AwaitingInput
	}
	if err := updated.Validate(); err != nil {
		return account, err
	}
	return updated, nil
}

// RuntimeConfig is the process-wide mutable configuration document.
type RuntimeConfig struct {
	TrialDefault    int64
	GlobalFreeUntil string
	ChannelLink     string
	ChannelChatID   string
	ReferralReward  int64
	// ReferralTarget is informational only.
	ReferralTarget int64
}

// DefaultRuntimeConfig returns the configuration used when none has been persisted.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TrialDefault:   defaultTrialCount,
		ReferralReward: defaultReferralReward,
		ReferralTarget: defaultReferralTarget,
	}
}

// Validate rejects negative counters.
func (config RuntimeConfig) Validate() error {
	if config.TrialDefault < 0 {
		return fmt.Errorf("%w: trial default must not be negative", ErrInvalidRuntimeConfig)
	}
	if config.ReferralReward < 0 {
		return fmt.Errorf("%w: referral reward must not be negative", ErrInvalidRuntimeConfig)
	}
	if config.ReferralTarget < 0 {
		return fmt.Errorf("%w: referral target must not be negative", ErrInvalidRuntimeConfig)
	}
	return nil
}

// Store is the persistence contract used by Service.
// WithTx runs fn under the process-wide critical section; the staged writes are flushed
// in one save when fn returns nil and discarded otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, userID UserID) (Account, bool, error)
	PutAccount(ctx context.Context, account Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	RuntimeConfig(ctx context.Context) (RuntimeConfig, error)
	PutRuntimeConfig(ctx context.Context, config RuntimeConfig) error
}
