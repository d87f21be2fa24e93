package lookupbot

import (
	"context"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"go.uber.org/zap"
)

// OperationLogger writes ledger operations as structured log lines.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger returns an OperationLogger backed by logger.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation logs failures at warn level and everything else at info.
func (operationLogger *OperationLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("user_id", entry.UserID.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.OperationID != "" {
		fields = append(fields, zap.String("operation_id", entry.OperationID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Plan != "" {
		fields = append(fields, zap.String("plan", entry.Plan.String()))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}

type operationLoggers []ledger.OperationLogger

func (loggers operationLoggers) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}

// combineOperationLoggers fans every entry out to each non-nil logger.
func combineOperationLoggers(loggers ...ledger.OperationLogger) ledger.OperationLogger {
	combined := make(operationLoggers, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			combined = append(combined, logger)
		}
	}
	if len(combined) == 1 {
		return combined[0]
	}
	return combined
}
