package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookupbot"
	"github.com/MarkoPoloResearchLab/lookupgate/internal/store/filestore"
	"github.com/spf13/viper"
)

func executeCommand(test *testing.T, args ...string) (string, error) {
	test.Helper()
	cmd := newRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestAdminCommandsOnFileStorage(test *testing.T) {
	test.Parallel()
	storageURL := "file://" + test.TempDir()

	output, err := executeCommand(test, "grant", "42", "5", "--storage-url", storageURL)
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if !strings.Contains(output, "user 42: credits=5 trials=3") {
		test.Fatalf("unexpected grant output %q", output)
	}

	if _, err := executeCommand(test, "trials", "42", "2", "--storage-url", storageURL); err != nil {
		test.Fatalf("trials: %v", err)
	}
	output, err = executeCommand(test, "subscription", "42", "on", "--storage-url", storageURL)
	if err != nil || !strings.Contains(output, "subscription=true") {
		test.Fatalf("subscription: %q %v", output, err)
	}
	output, err = executeCommand(test, "global-free", "2099-12-31", "--storage-url", storageURL)
	if err != nil || !strings.Contains(output, "until 2099-12-31") {
		test.Fatalf("global-free: %q %v", output, err)
	}
	output, err = executeCommand(test, "stats", "--storage-url", storageURL)
	if err != nil || !strings.Contains(output, "accounts=1 subscribers=1") {
		test.Fatalf("stats: %q %v", output, err)
	}

	if _, err := executeCommand(test, "history", "42", "--storage-url", storageURL); !errors.Is(err, errStorageHasNoJournal) {
		test.Fatalf("expected history to require a journal, got %v", err)
	}
}

func TestHistoryOnSQLiteStorage(test *testing.T) {
	test.Parallel()
	storageURL := "sqlite://" + filepath.Join(test.TempDir(), "bot.db")
	if _, err := executeCommand(test, "grant", "42", "4", "--storage-url", storageURL); err != nil {
		test.Fatalf("grant: %v", err)
	}
	output, err := executeCommand(test, "history", "42", "--storage-url", storageURL, "--limit", "5")
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if !strings.Contains(output, "grant_credits\tok\t4") {
		test.Fatalf("unexpected history output %q", output)
	}
}

func TestAdminCommandsRejectBadArguments(test *testing.T) {
	test.Parallel()
	storageURL := "file://" + test.TempDir()
	cases := [][]string{
		{"grant", "abc", "5"},
		{"grant", "42", "five"},
		{"grant", "42", "0"},
		{"subscription", "42", "maybe"},
		{"global-free", "31-12-2099"},
		{"stats", "extra"},
	}
	for _, args := range cases {
		if _, err := executeCommand(test, append(args, "--storage-url", storageURL)...); err == nil {
			test.Fatalf("%v: expected error", args)
		}
	}
	directory := strings.TrimPrefix(storageURL, "file://")
	for _, name := range []string{filestore.UsersDocument, filestore.ConfigDocument} {
		if _, err := os.Stat(filepath.Join(directory, name)); !errors.Is(err, os.ErrNotExist) {
			test.Fatalf("rejected commands must not write %s: %v", name, err)
		}
	}
}

func TestLoadConfigReadsEnvironment(test *testing.T) {
	test.Setenv("LOOKUPBOT_TELEGRAM_TOKEN", "prefixed-token")
	test.Setenv("ADMIN_ID", "7777")
	test.Setenv("CHANNEL_CHAT_ID", "@public_channel")
	test.Setenv("LOOKUPBOT_LOOKUP_TIMEOUT", "3s")
	test.Setenv("LOOKUPBOT_STORAGE_URL", "")
	test.Setenv("DATABASE_URL", "")

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--trial-default", "5"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	cfg := &lookupbot.Config{}
	if err := loadConfig(cmd, viper.New(), cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.TelegramToken != "prefixed-token" || cfg.AdminID != 7777 {
		test.Fatalf("unexpected credentials %+v", cfg)
	}
	if cfg.Seed.ChannelChatID != "@public_channel" || cfg.Seed.TrialDefault != 5 || cfg.Seed.ReferralReward != 2 {
		test.Fatalf("unexpected seed %+v", cfg.Seed)
	}
	if cfg.LookupTimeout.String() != "3s" || cfg.StorageURL != defaultStorageURL {
		test.Fatalf("unexpected settings %+v", cfg)
	}
}
