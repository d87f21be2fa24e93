package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	UserID           int64  `gorm:"primaryKey;autoIncrement:false"`
	Trials           int64  `gorm:"not null"`
	Credits          int64  `gorm:"not null"`
	Subscription     bool   `gorm:"not null"`
	JoinedChannel    bool   `gorm:"not null"`
	ReferrerID       *int64 `gorm:"index:idx_accounts_referrer"`
	ReferralCredited bool   `gorm:"not null"`
	RefCount         int64  `gorm:"not null"`
	State            string `gorm:"not null"`
	AwaitingInput    bool   `gorm:"not null"`
	CreatedUnixUTC   int64  `gorm:"not null"`
	LastUsedUnixUTC  int64  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// RuntimeConfig stores the runtime configuration document as one JSON row.
type RuntimeConfig struct {
	Name      string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (RuntimeConfig) TableName() string { return "runtime_config" }

// Operation mirrors the operations journal table. Reserve, capture and release of one hold share an OperationID.
type Operation struct {
	EntryID     string         `gorm:"primaryKey"`
	OperationID string         `gorm:"not null;index:idx_operations_operation_id"`
	Operation   string         `gorm:"not null;index:idx_operations_user_created,priority:3"`
	UserID      int64          `gorm:"not null;index:idx_operations_user_created,priority:1"`
	Amount      int64          `gorm:"not null"`
	Status      string         `gorm:"not null"`
	Error       string         `gorm:"not null"`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_operations_user_created,priority:2"`
}

func (Operation) TableName() string { return "operations" }

func (operation *Operation) BeforeCreate(tx *gorm.DB) error {
	if operation.EntryID == "" {
		operation.EntryID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &RuntimeConfig{}, &Operation{}}
}
