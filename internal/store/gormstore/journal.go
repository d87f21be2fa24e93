package gormstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMetadataJSON = "{}"
	errorSubjectJournal = "journal"
	defaultJournalLimit = 50
	maximumJournalLimit = 500
	journalWriteTimeout = 5 * time.Second
)

// JournalEntry is one recorded ledger operation.
type JournalEntry struct {
	OperationID    string
	Operation      string
	UserID         int64
	Amount         int64
	Plan           string
	Status         string
	Error          string
	CreatedUnixUTC int64
}

type operationMetadata struct {
	Plan string `json:"plan,omitempty"`
}

// Journal records every ledger operation in the operations table. It implements ledger.OperationLogger.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewJournal returns a Journal. Write failures are logged and never reach the caller.
func NewJournal(db *gorm.DB, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: db, logger: logger, nowFn: time.Now}
}

// LogOperation inserts one journal row.
func (journal *Journal) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	metadata := datatypes.JSON([]byte(defaultMetadataJSON))
	if entry.Plan != "" {
		encoded, err := payloadCodec.Marshal(operationMetadata{Plan: entry.Plan.String()})
		if err == nil {
			metadata = datatypes.JSON(encoded)
		}
	}
	errorText := ""
	if entry.Error != nil {
		errorText = entry.Error.Error()
	}
	model := Operation{
		OperationID: entry.OperationID,
		Operation:   entry.Operation,
		UserID:      entry.UserID.Int64(),
		Amount:      entry.Amount,
		Status:      entry.Status,
		Error:       errorText,
		Metadata:    metadata,
		CreatedAt:   journal.nowFn().UTC(),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	defer cancel()
	if err := journal.db.WithContext(writeCtx).Create(&model).Error; err != nil {
		journal.logger.Warn("journal write failed",
			zap.String("operation_id", entry.OperationID),
			zap.String("operation", entry.Operation),
			zap.Error(wrapStoreError(errorSubjectJournal, errorCodeUpsert, err)))
	}
}

// ListOperations returns the newest entries for a user, newest first.
func (journal *Journal) ListOperations(ctx context.Context, userID ledger.UserID, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maximumJournalLimit {
		limit = maximumJournalLimit
	}
	var rows []Operation
	err := journal.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJournal, errorCodeList, err)
	}
	entries := make([]JournalEntry, 0, len(rows))
	for _, row := range rows {
		var metadata operationMetadata
		if len(row.Metadata) > 0 {
			if err := payloadCodec.Unmarshal(row.Metadata, &metadata); err != nil {
				return nil, wrapStoreError(errorSubjectJournal, errorCodeDecode, err)
			}
		}
		entries = append(entries, JournalEntry{
			OperationID:    row.OperationID,
			Operation:      row.Operation,
			UserID:         row.UserID,
			Amount:         row.Amount,
			Plan:           metadata.Plan,
			Status:         row.Status,
			Error:          row.Error,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return entries, nil
}
