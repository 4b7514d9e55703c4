package onboarding

import (
	"context"

	"github.com/sparkgoals/spark/store"
)

// Service defines the session workflow engine offered upward to the UI
// layer. All mutating operations are serialized internally; callers are
// expected to await them sequentially.
type Service interface {
	// IsWorkflowDone reports whether onboarding has finished. Fast local
	// check; never touches the network.
	IsWorkflowDone(ctx context.Context) bool

	// StartOrRecover resolves the current identity (creating an anonymous
	// one if absent), adopts the most recent incomplete remote session for
	// authenticated identities, and otherwise starts a fresh session.
	// Remote persistence is best-effort; the call fails only when no
	// identity can be established.
	StartOrRecover(ctx context.Context) (*store.OnboardingSession, error)

	// Advance merges partial answers into the session (last-write-wins per
	// field) and moves the current step forward. Step regressions are
	// clamped. The returned aggregate always reflects the caller's writes
	// regardless of remote outcome.
	Advance(ctx context.Context, step int32, partial *Answers) (*store.OnboardingSession, error)

	// MaterializeAndDefer turns the complete answer set into the final
	// domain records in one atomic transaction and pre-registers them with
	// the sync marker. It does NOT mark the workflow done; completion is
	// deferred until the external purchase confirmation arrives. On
	// transaction failure no records exist and the call may be retried.
	MaterializeAndDefer(ctx context.Context, answers *Answers) (*MaterializedRecords, error)

	// Finalize durably marks the workflow done and clears the in-memory
	// session. Idempotent; the only writer of the durable done flag.
	Finalize(ctx context.Context) error

	// OnPurchaseConfirmed is the inbound entitlement completion signal the
	// host wires to the purchase flow. Delegates to Finalize.
	OnPurchaseConfirmed(ctx context.Context) error

	// Reset clears local and remote workflow state. For test/demo re-entry
	// only.
	Reset(ctx context.Context) error

	// UserName returns the name captured during onboarding, if finalized.
	UserName() (string, bool)

	// Personalization returns the vision personalization preference
	// captured during onboarding, if finalized.
	Personalization() (string, bool)
}
