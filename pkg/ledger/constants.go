package ledger

const (
	operationCreateAccount  = "create_account"
	operationUpdateAccount  = "update_account"
	operationReserve        = "reserve"
	operationCapture        = "capture"
	operationRelease        = "release"
	operationRecordReferral = "record_referral"
	operationCreditReferral = "credit_referral"
	operationEnforceGate    = "enforce_gate"
	operationGrantCredits   = "grant_credits"
	operationGrantTrials    = "grant_trials"
	operationSubscription   = "set_subscription"
	operationRuntimeConfig  = "update_runtime_config"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultTrialCount     int64 = 3
	defaultReferralReward int64 = 2
	defaultReferralTarget int64 = 3

	// placeholderChannelChatID is the unconfigured value shipped in sample configs.
	placeholderChannelChatID = "@your_public_channel_username_or_-100XXXXXXXXXX"

	promoDateLayout = "2006-01-02"

	referralNotificationFormat = "Referral bonus added: +%d credit(s). Thanks!"
)
