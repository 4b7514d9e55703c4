package store

import (
	"context"
	"fmt"
)

// OnboardingSession is the object representing one user's progress through
// the guided setup workflow. ID is assigned by the remote store on the first
// successful insert and stays zero for sessions that are never persisted
// (anonymous identities).
type OnboardingSession struct {
	ID              int32
	UID             string
	OwnerID         string
	StartedTs       int64
	CompletedTs     *int64
	CurrentStep     int32
	IsCompleted     bool
	Answers         string // JSON string
	MaterializedIDs *string // JSON string
}

// FindOnboardingSession is the find condition for onboarding sessions.
// Results are always ordered by started_ts descending (most recent first).
type FindOnboardingSession struct {
	ID          *int32
	UID         *string
	OwnerID     *string
	IsCompleted *bool

	// Pagination
	Limit  *int
	Offset *int
}

// UpdateOnboardingSession is the update request for an onboarding session.
// Unset fields are left untouched server-side.
type UpdateOnboardingSession struct {
	ID              int32
	CurrentStep     *int32
	CompletedTs     *int64
	IsCompleted     *bool
	Answers         *string
	MaterializedIDs *string
}

// DeleteOnboardingSession is the delete request for onboarding sessions.
type DeleteOnboardingSession struct {
	IDs []int32
}

// CreateOnboardingSession creates a new onboarding session.
func (s *Store) CreateOnboardingSession(ctx context.Context, create *OnboardingSession) (*OnboardingSession, error) {
	created, err := s.driver.CreateOnboardingSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Delete(ctx, sessionCacheKey(created.OwnerID))
	return created, nil
}

// ListOnboardingSessions lists onboarding sessions with filter.
func (s *Store) ListOnboardingSessions(ctx context.Context, find *FindOnboardingSession) ([]*OnboardingSession, error) {
	return s.driver.ListOnboardingSessions(ctx, find)
}

// GetLatestIncompleteSession returns the most recently started incomplete
// session for the owner, or nil when none exists.
func (s *Store) GetLatestIncompleteSession(ctx context.Context, ownerID string) (*OnboardingSession, error) {
	cacheKey := sessionCacheKey(ownerID)
	if v, ok := s.sessionCache.Get(ctx, cacheKey); ok {
		if session, ok := v.(*OnboardingSession); ok {
			return session, nil
		}
	}

	incomplete := false
	limit := 1
	list, err := s.driver.ListOnboardingSessions(ctx, &FindOnboardingSession{
		OwnerID:     &ownerID,
		IsCompleted: &incomplete,
		Limit:       &limit,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.sessionCache.Set(ctx, cacheKey, list[0])
	return list[0], nil
}

// UpdateOnboardingSession updates an onboarding session.
func (s *Store) UpdateOnboardingSession(ctx context.Context, update *UpdateOnboardingSession) error {
	if err := s.driver.UpdateOnboardingSession(ctx, update); err != nil {
		return err
	}
	s.sessionCache.Clear(ctx)
	return nil
}

// DeleteOnboardingSessions deletes onboarding sessions by id.
func (s *Store) DeleteOnboardingSessions(ctx context.Context, delete *DeleteOnboardingSession) error {
	if len(delete.IDs) == 0 {
		return nil
	}
	if err := s.driver.DeleteOnboardingSessions(ctx, delete); err != nil {
		return err
	}
	s.sessionCache.Clear(ctx)
	return nil
}

func sessionCacheKey(ownerID string) string {
	return fmt.Sprintf("onboarding_session:%s", ownerID)
}
