package filestore

import (
	"fmt"
	"strconv"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
)

// accountRecord is the on-disk shape of one account in users.json.
type accountRecord struct {
	Trials            int64   `json:"trials"`
	Credits           int64   `json:"credits"`
	Subscription      bool    `json:"subscription"`
	JoinedChannel     bool    `json:"joined_channel"`
	ReferrerID        *string `json:"referrer_id"`
	ReferralCredited  bool    `json:"referral_credited"`
	RefCount          int64   `json:"ref_count"`
	Created           int64   `json:"created"`
	LastUsed          int64   `json:"last_used"`
	State             string  `json:"state,omitempty"`
	WaitingForVehicle bool    `json:"waiting_for_vehicle"`
}

// usersDocument is users.json: stringified user id to account.
type usersDocument map[string]accountRecord

// configDocument is config.json.
type configDocument struct {
	TrialDefault    int64  `json:"FREE_TRIAL_DEFAULT"`
	GlobalFreeUntil string `json:"GLOBAL_FREE_UNTIL"`
	ChannelLink     string `json:"CHANNEL_LINK"`
	ChannelChatID   string `json:"CHANNEL_CHAT_ID"`
	ReferralReward  int64  `json:"REF_CREDIT"`
	ReferralTarget  int64  `json:"REF_TARGET"`
}

func (document usersDocument) Validate() error {
	_, err := document.accounts()
	return err
}

func (document usersDocument) accounts() (map[ledger.UserID]ledger.Account, error) {
	accounts := make(map[ledger.UserID]ledger.Account, len(document))
	for key, record := range document {
		userID, err := ledger.ParseUserID(key)
		if err != nil {
			return nil, err
		}
		account, err := record.account(userID)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", key, err)
		}
		accounts[userID] = account
	}
	return accounts, nil
}

func (record accountRecord) account(userID ledger.UserID) (ledger.Account, error) {
	state, err := ledger.ParseConversationState(record.State)
	if err != nil {
		return ledger.Account{}, err
	}
	account := ledger.Account{
		UserID:           userID,
		Trials:           record.Trials,
		Credits:          record.Credits,
		Subscription:     record.Subscription,
		JoinedChannel:    record.JoinedChannel,
		ReferralCredited: record.ReferralCredited,
		RefCount:         record.RefCount,
		CreatedUnixUTC:   record.Created,
		LastUsedUnixUTC:  record.LastUsed,
		State:            state,
		AwaitingInput:    record.WaitingForVehicle,
	}
	if record.ReferrerID != nil && *record.ReferrerID != "" {
		referrerID, err := ledger.ParseUserID(*record.ReferrerID)
		if err != nil {
			return ledger.Account{}, err
		}
		account.ReferrerID = &referrerID
	}
	if err := account.Validate(); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}

func newUsersDocument(accounts map[ledger.UserID]ledger.Account) usersDocument {
	document := make(usersDocument, len(accounts))
	for userID, account := range accounts {
		document[userID.String()] = newAccountRecord(account)
	}
	return document
}

func newAccountRecord(account ledger.Account) accountRecord {
	record := accountRecord{
		Trials:            account.Trials,
		Credits:           account.Credits,
		Subscription:      account.Subscription,
		JoinedChannel:     account.JoinedChannel,
		ReferralCredited:  account.ReferralCredited,
		RefCount:          account.RefCount,
		Created:           account.CreatedUnixUTC,
		LastUsed:          account.LastUsedUnixUTC,
		State:             account.State.String(),
		WaitingForVehicle: account.AwaitingInput,
	}
	if account.ReferrerID != nil {
		referrer := strconv.FormatInt(account.ReferrerID.Int64(), 10)
		record.ReferrerID = &referrer
	}
	return record
}

func (document configDocument) Validate() error {
	return document.runtimeConfig().Validate()
}

func (document configDocument) runtimeConfig() ledger.RuntimeConfig {
	return ledger.RuntimeConfig{
		TrialDefault:    document.TrialDefault,
		GlobalFreeUntil: document.GlobalFreeUntil,
		ChannelLink:     document.ChannelLink,
		ChannelChatID:   document.ChannelChatID,
		ReferralReward:  document.ReferralReward,
		ReferralTarget:  document.ReferralTarget,
	}
}

func newConfigDocument(config ledger.RuntimeConfig) configDocument {
	return configDocument{
		TrialDefault:    config.TrialDefault,
		GlobalFreeUntil: config.GlobalFreeUntil,
		ChannelLink:     config.ChannelLink,
		ChannelChatID:   config.ChannelChatID,
		ReferralReward:  config.ReferralReward,
		ReferralTarget:  config.ReferralTarget,
	}
}
