package lookupbot

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingLogger struct {
	entries []ledger.OperationLog
}

func (logger *countingLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestOperationLoggerLevels(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.InfoLevel)
	operationLogger := NewOperationLogger(zap.New(core))
	userID, _ := ledger.NewUserID(42)

	operationLogger.LogOperation(context.Background(), ledger.OperationLog{
		OperationID: "hold-1", Operation: "reserve", UserID: userID, Amount: 1, Plan: ledger.DebitPlanTrial, Status: "ok",
	})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "grant_credits", UserID: userID, Status: "error", Error: errors.New("disk full"),
	})

	entries := recorded.AllUntimed()
	if len(entries) != 2 {
		test.Fatalf("expected two log lines, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["plan"] != "decrement_trial" || entries[0].ContextMap()["operation_id"] != "hold-1" {
		test.Fatalf("unexpected success entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "disk full" {
		test.Fatalf("unexpected failure entry %+v", entries[1])
	}
}

func TestCombineOperationLoggersFansOut(test *testing.T) {
	test.Parallel()
	first := &countingLogger{}
	second := &countingLogger{}
	combined := combineOperationLoggers(first, nil, second)
	combined.LogOperation(context.Background(), ledger.OperationLog{Operation: "capture"})
	if len(first.entries) != 1 || len(second.entries) != 1 {
		test.Fatalf("expected both loggers called, got %d and %d", len(first.entries), len(second.entries))
	}
	if single := combineOperationLoggers(first); single != ledger.OperationLogger(first) {
		test.Fatalf("expected a single logger to be returned as is")
	}
}
