package telegram

const (
	callbackCheckVehicle = "check_vehicle"
	callbackMainMenu     = "main_menu"
	callbackRecheckJoin  = "recheck_join"
	callbackCredits      = "check_credits"
	callbackReferral     = "referral"
	callbackSupport      = "support"
	callbackHelp         = "help"

	commandStart   = "start"
	commandMenu    = "menu"
	commandCancel  = "cancel"
	commandVehicle = "vehicle"
	commandCredits = "credits"
	commandRefer   = "refer"
	commandHelp    = "help"
	commandSupport = "support"
	commandGrant   = "grant"
	commandFree    = "free"
	commandStats   = "stats"

	referralPayloadPrefix = "ref_"
	maxMessageRunes       = 4000

	mainMenuMessage = "Vehicle Registration Bot\n\nChoose an option below."

	vehicleInputMessage = "Please enter the vehicle registration number.\n\nExample: UP65CM9494, DL01AB1234, MH12CD5678"

	helpMessage = "How to use this bot\n\n" +
		"Check Vehicle: get vehicle details for a registration number\n" +
		"Credits: view your remaining trials and credits\n" +
		"Refer & Earn: share your link and earn credits\n" +
		"Support: contact the admin\n\n" +
		"Each vehicle check uses one trial or credit."

	creditsMessageFormat = "Your balance\n\n" +
		"Free trials: %d\n" +
		"Bonus credits: %d\n" +
		"Subscription: %s\n" +
		"Global free: %s\n" +
		"Successful referrals: %d\n\n" +
		"Refer friends (+%d credits each) or contact @%s for more."

	referralMessageFormat = "Refer & Earn\n\n" +
		"Earn %d credits for each friend who starts the bot with your link and joins the channel.\n\n" +
		"Your link:\n%s\n\n" +
		"Successful referrals: %d of %d\n" +
		"Credits earned: %d"

	supportMessageFormat = "Support\n\nNeed help or want to buy credits? Contact @%s."

	joinRequiredMessage         = "Access locked.\n\nPlease join our channel to use the bot."
	insufficientBalanceMessage  = "Your free trials are over.\nBuy credits or a subscription to continue."
	vehicleUsageMessage         = "Usage: /vehicle <RC_Number>\nExample: /vehicle UP65CM9494"
	invalidIdentifierMessage    = "Invalid RC format. Example: UP65CM9494"
	fetchingMessage             = "Fetching vehicle info..."
	lookupFailedMessage         = "The vehicle service is unavailable right now. You were not charged, please try again later."
	vehicleResultFormat         = "Vehicle details for %s\n\n%s"
	cancelledMessage            = "Cancelled."
	unknownInputMessage         = "Use /menu to see what this bot can do."
	internalErrorMessage        = "Something went wrong. Please try again."
	grantUsageMessage           = "Usage: /grant <user_id> <credits>"
	grantDoneFormat             = "Granted %d credit(s) to %s. Balance: %d."
	freeUsageMessage            = "Usage: /free <YYYY-MM-DD|off>"
	freeDoneFormat              = "Global free window: %s"
	statsMessageFormat          = "Accounts: %d\nSubscribers: %d\nJoined channel: %d\nCredited referrals: %d"
	subscriptionActiveLabel     = "active"
	subscriptionInactiveLabel   = "none"
	globalFreeOffLabel          = "off"
	globalFreeActiveLabelFormat = "until %s"
	globalFreeDisableArgument   = "off"

	buttonCheckVehicle = "Check Vehicle Information"
	buttonCredits      = "My Credits"
	buttonReferral     = "Refer & Earn"
	buttonSupport      = "Support"
	buttonHelp         = "Help"
	buttonBackToMenu   = "Back to Menu"
	buttonJoinChannel  = "Join Channel"
	buttonJoined       = "I've Joined"
)
