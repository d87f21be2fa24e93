package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	OperationID string
	Operation   string
	UserID      UserID
	Amount      int64
	Plan        DebitPlan
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithAdministrator sets the user that bypasses the membership gate and the ledger.
func WithAdministrator(userID UserID) ServiceOption {
	return func(service *Service) {
		service.administrator = userID
	}
}

// WithMembershipOracle wires the membership collaborator.
func WithMembershipOracle(oracle MembershipOracle) ServiceOption {
	return func(service *Service) {
		service.oracle = oracle
	}
}

// WithNotifier wires the referral notification sink.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithMembershipTimeout bounds every membership oracle call.
func WithMembershipTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		service.membershipTimeout = timeout
	}
}

// WithNotifyTimeout bounds every referral notification. Zero leaves it unbounded.
func WithNotifyTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		service.notifyTimeout = timeout
	}
}

// WithIDGenerator overrides the generator used for hold and operation ids.
func WithIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.newID = generator
		}
	}
}
