package ledger

import "context"

// Outcome classifies a collaborator call so callers can choose to retry or ignore.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// MembershipStatus is the answer of the membership oracle.
type MembershipStatus string

const (
	MembershipMember    MembershipStatus = "member"
	MembershipNotMember MembershipStatus = "not_member"
	MembershipUnknown   MembershipStatus = "unknown"
)

// MembershipResult carries the oracle answer together with how the call went.
type MembershipResult struct {
	Status  MembershipStatus
	Outcome Outcome
	Err     error
}

// IsMember treats unknown as not a member.
func (result MembershipResult) IsMember() bool {
	return result.Status == MembershipMember
}

// MembershipOracle answers whether a user belongs to the required channel.
type MembershipOracle interface {
	CheckMembership(ctx context.Context, channelID string, userID UserID) MembershipResult
}

// NotificationResult reports a best-effort delivery attempt.
type NotificationResult struct {
	Outcome Outcome
	Err     error
}

// Notifier delivers a text message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID UserID, text string) NotificationResult
}
