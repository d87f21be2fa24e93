package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookupbot"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "LOOKUPBOT"

	flagTelegramToken     = "telegram-token"
	flagAdminID           = "admin-id"
	flagStorageURL        = "storage-url"
	flagLookupBaseURL     = "lookup-base-url"
	flagLookupTimeout     = "lookup-timeout"
	flagMembershipTimeout = "membership-timeout"
	flagNotifyTimeout     = "notify-timeout"
	flagBotUsername       = "bot-username"
	flagSupportUsername   = "support-username"
	flagWorkers           = "workers"
	flagTrialDefault      = "trial-default"
	flagGlobalFreeUntil   = "global-free-until"
	flagChannelLink       = "channel-link"
	flagChannelChatID     = "channel-chat-id"
	flagReferralReward    = "referral-reward"
	flagReferralTarget    = "referral-target"
	flagLimit             = "limit"

	defaultStorageURL = "file://./data"
	defaultHistory    = 20
)

// legacyEnv lists the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	flagTelegramToken:   "TELEGRAM_TOKEN",
	flagAdminID:         "ADMIN_ID",
	flagLookupBaseURL:   "VEHICLE_API_BASE",
	flagSupportUsername: "SUBSCRIBE_USERNAME",
	flagTrialDefault:    "FREE_TRIAL_DEFAULT",
	flagGlobalFreeUntil: "GLOBAL_FREE_UNTIL",
	flagChannelLink:     "CHANNEL_LINK",
	flagChannelChatID:   "CHANNEL_CHAT_ID",
	flagStorageURL:      "DATABASE_URL",
}

var errStorageHasNoJournal = errors.New("operation history requires a sqlite:// or postgres:// storage url")

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lookupbot: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &lookupbot.Config{}
	configuration := viper.New()
	cmd := &cobra.Command{
		Use:           "lookupbot",
		Short:         "Telegram vehicle lookup bot with metered access",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, configuration, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return lookupbot.Run(ctx, *cfg)
		},
	}

	seed := ledger.DefaultRuntimeConfig()
	flags := cmd.PersistentFlags()
	flags.String(flagTelegramToken, "", "Telegram bot token")
	flags.Int64(flagAdminID, 0, "Telegram user id of the administrator")
	flags.String(flagStorageURL, defaultStorageURL, "file://<dir>, sqlite://<path>, or postgres://<dsn>")
	flags.String(flagLookupBaseURL, "", "vehicle lookup endpoint, the registration number is appended")
	flags.Duration(flagLookupTimeout, 0, "vehicle lookup timeout")
	flags.Duration(flagMembershipTimeout, 0, "channel membership check timeout")
	flags.Duration(flagNotifyTimeout, 0, "referral notification timeout")
	flags.String(flagBotUsername, "", "bot username used in referral links (defaults to the token's bot)")
	flags.String(flagSupportUsername, "", "username shown for support and purchases")
	flags.Int(flagWorkers, 0, "number of updates handled concurrently")
	flags.Int64(flagTrialDefault, seed.TrialDefault, "free trials for new accounts until config.json is written")
	flags.String(flagGlobalFreeUntil, "", "last day (YYYY-MM-DD) of the global free window")
	flags.String(flagChannelLink, "", "invite link shown to users who have not joined")
	flags.String(flagChannelChatID, "", "channel chat id (-100...) or @username; empty disables the gate")
	flags.Int64(flagReferralReward, seed.ReferralReward, "credits per qualified referral")
	flags.Int64(flagReferralTarget, seed.ReferralTarget, "referral goal shown to users")

	cmd.AddCommand(
		newGrantCommand(cfg),
		newTrialsCommand(cfg),
		newSubscriptionCommand(cfg),
		newGlobalFreeCommand(cfg),
		newStatsCommand(cfg),
		newHistoryCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, configuration *viper.Viper, cfg *lookupbot.Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	configuration.SetEnvPrefix(envPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()

	flags := cmd.Flags()
	for _, name := range []string{
		flagTelegramToken, flagAdminID, flagStorageURL, flagLookupBaseURL, flagLookupTimeout,
		flagMembershipTimeout, flagNotifyTimeout, flagBotUsername, flagSupportUsername, flagWorkers, flagTrialDefault,
		flagGlobalFreeUntil, flagChannelLink, flagChannelChatID, flagReferralReward, flagReferralTarget,
	} {
		if legacy, ok := legacyEnv[name]; ok {
			prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
			if err := configuration.BindEnv(name, prefixed, legacy); err != nil {
				return err
			}
		}
		if err := configuration.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	*cfg = lookupbot.Config{
		TelegramToken:     configuration.GetString(flagTelegramToken),
		AdminID:           configuration.GetInt64(flagAdminID),
		StorageURL:        configuration.GetString(flagStorageURL),
		LookupBaseURL:     configuration.GetString(flagLookupBaseURL),
		LookupTimeout:     configuration.GetDuration(flagLookupTimeout),
		MembershipTimeout: configuration.GetDuration(flagMembershipTimeout),
		NotifyTimeout:     configuration.GetDuration(flagNotifyTimeout),
		BotUsername:       configuration.GetString(flagBotUsername),
		SupportUsername:   configuration.GetString(flagSupportUsername),
		Workers:           configuration.GetInt(flagWorkers),
		Seed: ledger.RuntimeConfig{
			TrialDefault:    configuration.GetInt64(flagTrialDefault),
			GlobalFreeUntil: configuration.GetString(flagGlobalFreeUntil),
			ChannelLink:     configuration.GetString(flagChannelLink),
			ChannelChatID:   configuration.GetString(flagChannelChatID),
			ReferralReward:  configuration.GetInt64(flagReferralReward),
			ReferralTarget:  configuration.GetInt64(flagReferralTarget),
		},
	}
	return nil
}

func newGrantCommand(cfg *lookupbot.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user_id> <credits>",
		Short: "Add bonus credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, amount, err := parseUserAmount(args)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				account, err := service.GrantCredits(ctx, userID, amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s: credits=%d trials=%d\n", userID, account.Credits, account.Trials)
				return nil
			})
		},
	}
}

func newTrialsCommand(cfg *lookupbot.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "trials <user_id> <count>",
		Short: "Add free trials to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, amount, err := parseUserAmount(args)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				account, err := service.GrantTrials(ctx, userID, amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s: credits=%d trials=%d\n", userID, account.Credits, account.Trials)
				return nil
			})
		},
	}
}

func newSubscriptionCommand(cfg *lookupbot.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "subscription <user_id> <on|off>",
		Short: "Enable or disable unlimited lookups for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := ledger.ParseUserID(args[0])
			if err != nil {
				return err
			}
			enabled, err := parseSwitch(args[1])
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				account, err := service.SetSubscription(ctx, userID, enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s: subscription=%t\n", userID, account.Subscription)
				return nil
			})
		},
	}
}

func newGlobalFreeCommand(cfg *lookupbot.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "global-free <YYYY-MM-DD|off>",
		Short: "Set the last day of the global free window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			until := strings.TrimSpace(args[0])
			if strings.EqualFold(until, "off") {
				until = ""
			}
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				config, err := service.SetGlobalFreeUntil(ctx, until)
				if err != nil {
					return err
				}
				if config.GlobalFreeUntil == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "global free: off")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "global free: until %s\n", config.GlobalFreeUntil)
				return nil
			})
		},
	}
}

func newStatsCommand(cfg *lookupbot.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print account counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				stats, err := service.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accounts=%d subscribers=%d joined=%d credited_referrals=%d\n",
					stats.Accounts, stats.Subscribers, stats.JoinedChannel, stats.CreditedReferrals)
				return nil
			})
		},
	}
}

func newHistoryCommand(cfg *lookupbot.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user_id>",
		Short: "Print the newest ledger operations of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := ledger.ParseUserID(args[0])
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error {
				if storage.Journal == nil {
					return errStorageHasNoJournal
				}
				entries, err := storage.Journal.ListOperations(ctx, userID, limit)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d\t%s\t%s\n",
						entry.CreatedUnixUTC, entry.Operation, entry.Status, entry.Amount, entry.Plan, entry.OperationID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int(flagLimit, defaultHistory, "maximum number of entries")
	return cmd
}

func withService(cmd *cobra.Command, cfg *lookupbot.Config, fn func(ctx context.Context, service *ledger.Service, storage *lookupbot.Storage) error) error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := loggerConfig.Build()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	storage, err := lookupbot.OpenStorage(ctx, cfg.StorageURL, cfg.Seed, logger)
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()
	service, err := lookupbot.NewService(storage, *cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, service, storage)
}

func parseUserAmount(args []string) (ledger.UserID, int64, error) {
	userID, err := ledger.ParseUserID(args[0])
	if err != nil {
		return 0, 0, err
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse amount %q: %w", args[1], err)
	}
	return userID, amount, nil
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", raw)
	}
}
