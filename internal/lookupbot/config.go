package lookupbot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookup"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
)

const (
	defaultStorageURL        = "file://./data"
	defaultLookupBaseURL     = "https://rc-info-ng.vercel.app/?rc="
	defaultMembershipTimeout = 5 * time.Second
	defaultNotifyTimeout     = 10 * time.Second
	defaultWorkers           = 8
)

// ErrInvalidConfig indicates a missing or malformed process setting.
var ErrInvalidConfig = errors.New("invalid lookupbot config")

// Config aggregates the process settings of the bot.
type Config struct {
	TelegramToken     string
	AdminID           int64
	StorageURL        string
	LookupBaseURL     string
	LookupTimeout     time.Duration
	MembershipTimeout time.Duration
	NotifyTimeout     time.Duration
	BotUsername       string
	SupportUsername   string
	Workers           int
	// Seed is the runtime configuration used until one has been persisted.
	Seed ledger.RuntimeConfig
}

// Validate fills defaults and rejects settings the bot cannot run without.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	cfg.LookupBaseURL = defaultIfEmpty(cfg.LookupBaseURL, defaultLookupBaseURL)
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = lookup.DefaultTimeout
	}
	if cfg.MembershipTimeout <= 0 {
		cfg.MembershipTimeout = defaultMembershipTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	cfg.SupportUsername = strings.TrimPrefix(strings.TrimSpace(cfg.SupportUsername), "@")
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return fmt.Errorf("%w: telegram token is required", ErrInvalidConfig)
	}
	if _, err := ledger.NewUserID(cfg.AdminID); err != nil {
		return fmt.Errorf("%w: admin id is required", ErrInvalidConfig)
	}
	return nil
}

// ValidateStorage checks only what the administrative commands need.
func (cfg *Config) ValidateStorage() error {
	cfg.StorageURL = defaultIfEmpty(cfg.StorageURL, defaultStorageURL)
	if err := cfg.Seed.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Administrator returns the administrator id, or zero when none is configured.
func (cfg Config) Administrator() ledger.UserID {
	userID, err := ledger.NewUserID(cfg.AdminID)
	if err != nil {
		return 0
	}
	return userID
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
